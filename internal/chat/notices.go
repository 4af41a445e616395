package chat

import "fmt"

const (
	NoticeBusy            = "Your previous message is still being processed, please wait for the answer and send this one again"
	NoticeRetry           = "Some error happened, please try to send message again"
	NoticeTimeout         = "The model took too long to answer, please try to send message again"
	NoticeAttachment      = "Could not download your photo, please try to send it again"
	NoticeContextExceeded = "Model's maximum context length exceeded, message history was cleaned"
	NoticeCleaned         = "Message history was cleaned!"
)

func welcomeText(name string) string {
	return fmt.Sprintf("Welcome %s to the simple OpenAI chat bot!", name)
}
