package notify

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"text/template"

	"docflow/internal/directory"
	"docflow/internal/events"
)

type message struct {
	subject *template.Template
	body    *template.Template
	// recipient is the event data key holding the actor to notify.
	recipient string
}

func newMessage(recipient, subject, body string) message {
	return message{
		recipient: recipient,
		subject:   template.Must(template.New("subject").Parse(subject)),
		body:      template.Must(template.New("body").Parse(body)),
	}
}

var messages = map[string]message{
	events.DocumentSubmitted: newMessage("supervisorId",
		`Review requested: {{.Event.DocumentID}}`,
		`Hi {{.Recipient.Name}},

{{.Actor.Name}} submitted {{.Event.DocumentID}} (version {{index .Event.Data "version"}}) for review.
The document is locked until the review completes.
`),
	events.ReviewDecided: newMessage("nextReviewerId",
		`Review requested: {{.Event.DocumentID}}`,
		`Hi {{.Recipient.Name}},

{{.Actor.Name}} approved {{.Event.DocumentID}} at {{index .Event.Data "stage"}}. Your decision is needed next.
`),
	events.ReviewTransferred: newMessage("to",
		`Review transferred: {{.Event.DocumentID}}`,
		`Hi {{.Recipient.Name}},

{{.Actor.Name}} handed over the {{index .Event.Data "stage"}} of {{.Event.DocumentID}} to you.
{{with index .Event.Data "comment"}}
Comment: {{.}}
{{end}}`),
	events.DocumentApproved: newMessage("submitterId",
		`Approved: {{.Event.DocumentID}}`,
		`Hi {{.Recipient.Name}},

{{.Event.DocumentID}} was approved by {{.Actor.Name}} and is now final.
`),
	events.DocumentRejected: newMessage("submitterId",
		`Rejected: {{.Event.DocumentID}}`,
		`Hi {{.Recipient.Name}},

{{.Actor.Name}} rejected {{.Event.DocumentID}} at {{index .Event.Data "stage"}}.
{{with index .Event.Data "comment"}}
Comment: {{.}}
{{end}}
Re-open the document to make changes and submit it again.
`),
	events.TaskAssigned: newMessage("assigneeId",
		`New task: {{.Event.DocumentID}}`,
		`Hi {{.Recipient.Name}},

{{.Actor.Name}} assigned you a {{index .Event.Data "priority"}} priority task on {{.Event.DocumentID}}.
`),
}

type templateData struct {
	Event     events.Event
	Actor     directory.Actor
	Recipient directory.Actor
}

// Notifier is an events.Sink that mails the participant an event hands
// work to. Delivery happens in the background; Close waits for it.
type Notifier struct {
	directory directory.Directory
	sender    Sender
	wg        sync.WaitGroup
}

func New(dir directory.Directory, sender Sender) *Notifier {
	return &Notifier{directory: dir, sender: sender}
}

func (n *Notifier) Publish(ctx context.Context, event events.Event) error {
	msg, ok := messages[event.Type]
	if !ok {
		return nil
	}
	recipientID, _ := event.Data[msg.recipient].(string)
	if recipientID == "" || recipientID == event.ActorID {
		return nil
	}
	recipient, err := n.directory.Lookup(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("notify %s: %w", recipientID, err)
	}
	if strings.TrimSpace(recipient.Email) == "" {
		return nil
	}
	actor, err := n.directory.Lookup(ctx, event.ActorID)
	if err != nil {
		actor = directory.Actor{ID: event.ActorID, Name: event.ActorID}
	}

	data := templateData{Event: event, Actor: actor, Recipient: recipient}
	subject, err := render(msg.subject, data)
	if err != nil {
		return err
	}
	body, err := render(msg.body, data)
	if err != nil {
		return err
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.sender.Send([]string{recipient.Email}, subject, body); err != nil {
			log.Printf("notify %s about %s: %v", recipient.ID, event.Type, err)
		}
	}()
	return nil
}

// Close blocks until queued messages have been handed to the sender.
func (n *Notifier) Close() {
	n.wg.Wait()
}

func render(t *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
