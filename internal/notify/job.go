package notify

import (
	"time"
)

type Category string

const (
	CategoryReply      Category = "reply"
	CategoryNewsletter Category = "newsletter"
	// sent from the settings page to check the transport
	CategoryTest Category = "test"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Message is a rendered email, ready for a Transport.
type Message struct {
	To       Recipient
	ReplyTo  string
	Subject  string
	HTMLBody string
	TextBody string
}

type EmailJob struct {
	ID         string    `json:"id"`
	BatchID    string    `json:"batch_id,omitempty"`
	Category   Category  `json:"category"`
	To         Recipient `json:"to"`
	Subject    string    `json:"subject"`
	HTMLBody   string    `json:"-"`
	TextBody   string    `json:"-"`
	ReplyTo    string    `json:"reply_to,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Status     Status    `json:"status"`
	Failure    string    `json:"failure,omitempty"`
	Attempts   int       `json:"attempts"`
}

func (j *EmailJob) message() *Message {
	return &Message{
		To:       j.To,
		ReplyTo:  j.ReplyTo,
		Subject:  j.Subject,
		HTMLBody: j.HTMLBody,
		TextBody: j.TextBody,
	}
}

func (j *EmailJob) finished() bool {
	return j.Status == StatusSent || j.Status == StatusFailed
}

// Batch summarizes one newsletter broadcast.
type Batch struct {
	ID          string    `json:"id"`
	Category    Category  `json:"category"`
	Subject     string    `json:"subject"`
	Total       int       `json:"total"`
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	Aborted     bool      `json:"aborted"`
	AbortReason string    `json:"abort_reason,omitempty"`
	SentTo      []string  `json:"sent_to"`
	FailedTo    []string  `json:"failed_to"`
	Done        bool      `json:"done"`
	CreatedAt   time.Time `json:"created_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

func (b Batch) clone() Batch {
	b.SentTo = append([]string(nil), b.SentTo...)
	b.FailedTo = append([]string(nil), b.FailedTo...)
	return b
}

// ReplyMessage is an admin reply to a contact form message.
type ReplyMessage struct {
	To              Recipient
	OriginalSubject string
	Body            string
	// shown as the signature and used as reply-to; the dispatcher defaults apply when empty
	SenderName  string
	SenderEmail string
	// also send a copy of the reply to SenderEmail
	SendCopy bool
}

type Post struct {
	Title   string
	Excerpt string
	Slug    string
}

type Subscriber struct {
	Email string
	Name  string
}
