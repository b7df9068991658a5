package chat

// Bilingual is user-facing text in both supported languages. Language
// selection happens at the edge; the relay core never picks one.
type Bilingual struct {
	Ar string `json:"ar"`
	En string `json:"en"`
}

// Result is a structured business outcome. Rejections (not friends, target
// offline, no shared chat) are frequent, expected outcomes returned as
// values, never as errors.
type Result struct {
	Content   Bilingual `json:"content"`
	IsSuccess bool      `json:"isSuccess"`
}

func failure(ar, en string) *Result {
	return &Result{Content: Bilingual{Ar: ar, En: en}, IsSuccess: false}
}

var (
	resultNotFriends = failure(
		"يمكنك فقط الاتصال بأصدقائك.",
		"You can only call your friends.")
	resultNotConnected = failure(
		"المستخدم غير متصل الآن.",
		"User is not connected now.")
	resultNoChat = failure(
		"لا توجد محادثة مع هذا المستخدم.",
		"No chat exists with this user.")
	resultNotChatMember = failure(
		"أنت لست عضوا في هذه المحادثة.",
		"You are not a member of this chat.")
)
