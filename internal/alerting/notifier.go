package alerting

import (
	"context"
	"errors"
	"strings"
)

// DetailField is one labelled line of structured alert detail. Order is
// preserved in the rendered message.
type DetailField struct {
	Label string
	Value string
}

// Notification 封装告警上下文。
type Notification struct {
	Title   string
	Message string
	Detail  []DetailField
}

// Notifier 定义告警输送接口。Delivery success gates cooldown recording.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Multi fans a notification out to several channels. Delivery counts as
// successful only when every channel accepts it, so a partial failure is
// retried next cycle rather than suppressed.
type Multi []Notifier

// Notify delivers to all channels and joins their failures.
func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func renderText(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(note.Title)
	builder.WriteString("\n\n")
	builder.WriteString(note.Message)
	if len(note.Detail) > 0 {
		builder.WriteString("\n\n详细信息：")
		for _, field := range note.Detail {
			builder.WriteString("\n")
			builder.WriteString(field.Label)
			builder.WriteString(": ")
			builder.WriteString(field.Value)
		}
	}
	return builder.String()
}

var _ Notifier = (Multi)(nil)
