package eventbus

import (
	"time"

	"github.com/faithleysath/pt-web-automation/internal/model"
)

// Kind identifies one member of the closed event set.
type Kind uint8

const (
	// KindAny is the super-kind. Handlers accepting it may be subscribed to
	// any concrete kind. Events never report it.
	KindAny Kind = iota
	KindSubscriptionTriggered
	KindDownloadRequested
	KindFileChanged
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindSubscriptionTriggered:
		return "subscription_triggered"
	case KindDownloadRequested:
		return "download_requested"
	case KindFileChanged:
		return "file_changed"
	default:
		return "unknown"
	}
}

func (k Kind) concrete() bool {
	return k >= KindSubscriptionTriggered && k <= KindFileChanged
}

// Event is implemented only by the event types of this package.
type Event interface {
	Kind() Kind
	CreatedAt() time.Time
	sealed()
}

type header struct {
	at time.Time
}

func newHeader() header { return header{at: time.Now()} }

func (h header) CreatedAt() time.Time { return h.at }
func (header) sealed()                {}

// SubscriptionTriggered asks for a reconciliation pass of Subscription.
type SubscriptionTriggered struct {
	header
	Subscription model.Subscription
}

func NewSubscriptionTriggered(sub model.Subscription) *SubscriptionTriggered {
	return &SubscriptionTriggered{header: newHeader(), Subscription: sub}
}

func (*SubscriptionTriggered) Kind() Kind { return KindSubscriptionTriggered }

// DownloadRequested asks the download queue to fetch one episode.
// RetryCount is the only field mutated after publication; the download
// queue increments it on every submission.
type DownloadRequested struct {
	header
	Subscription model.Subscription
	Episode      int
	Link         model.DownloadLink
	RetryCount   int
}

func NewDownloadRequested(sub model.Subscription, episode int, link model.DownloadLink) *DownloadRequested {
	return &DownloadRequested{
		header:       newHeader(),
		Subscription: sub,
		Episode:      episode,
		Link:         link,
	}
}

func (*DownloadRequested) Kind() Kind { return KindDownloadRequested }

// ChangeKind classifies a filesystem notification.
type ChangeKind uint8

const (
	ChangeAdded ChangeKind = iota + 1
	ChangeModified
	ChangeDeleted
	ChangeRenamed
)

func (c ChangeKind) String() string {
	switch c {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	case ChangeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// ParseChangeKind maps a config name to a ChangeKind.
func ParseChangeKind(s string) (ChangeKind, bool) {
	switch s {
	case "added":
		return ChangeAdded, true
	case "modified":
		return ChangeModified, true
	case "deleted":
		return ChangeDeleted, true
	case "renamed":
		return ChangeRenamed, true
	}
	return 0, false
}

// FileChanged reports a change below a watched directory.
type FileChanged struct {
	header
	Change ChangeKind
	Path   string
}

func NewFileChanged(change ChangeKind, path string) *FileChanged {
	return &FileChanged{header: newHeader(), Change: change, Path: path}
}

func (*FileChanged) Kind() Kind { return KindFileChanged }

// isNil reports whether ev is nil or a typed nil pointer.
func isNil(ev Event) bool {
	switch e := ev.(type) {
	case nil:
		return true
	case *SubscriptionTriggered:
		return e == nil
	case *DownloadRequested:
		return e == nil
	case *FileChanged:
		return e == nil
	}
	return false
}
