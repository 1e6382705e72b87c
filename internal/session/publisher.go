package session

import "sync"

// Publisher emits activity entries for one session and tracks the current
// thread labels so consecutive messages about the same work item group
// together on the observer side.
type Publisher struct {
	hub *ActivityHub
	id  string

	mu           sync.Mutex
	threadTitle  string
	threadStatus string
}

// NewPublisher binds a publisher to a session id on the given hub.
func NewPublisher(hub *ActivityHub, id string) *Publisher {
	return &Publisher{hub: hub, id: id}
}

// StartThread opens a named sub-thread. Subsequent entries carry its title
// and status until EndThread or the next StartThread.
func (p *Publisher) StartThread(title, status string) {
	p.mu.Lock()
	p.threadTitle = title
	p.threadStatus = status
	p.mu.Unlock()
}

// SetThreadStatus updates the status label of the current thread.
func (p *Publisher) SetThreadStatus(status string) {
	p.mu.Lock()
	if p.threadTitle != "" {
		p.threadStatus = status
	}
	p.mu.Unlock()
}

// EndThread clears the thread labels; later entries go to the flat log.
func (p *Publisher) EndThread() {
	p.mu.Lock()
	p.threadTitle = ""
	p.threadStatus = ""
	p.mu.Unlock()
}

// Action reports a browser action the session performed.
func (p *Publisher) Action(msg string) { p.emit(KindAction, msg) }

// Thought reports reasoning or an intermediate decision.
func (p *Publisher) Thought(msg string) { p.emit(KindThought, msg) }

// Result reports an outcome for the current work item or the whole run.
func (p *Publisher) Result(msg string) { p.emit(KindResult, msg) }

// Status reports a lifecycle change. Status entries bypass thread labels so
// they always land in the session's main log.
func (p *Publisher) Status(msg string) {
	p.hub.Publish(p.id, Entry{Kind: KindStatus, Message: msg})
}

func (p *Publisher) emit(kind Kind, msg string) {
	p.mu.Lock()
	title, status := p.threadTitle, p.threadStatus
	p.mu.Unlock()
	p.hub.Publish(p.id, Entry{
		Kind:         kind,
		Message:      msg,
		ThreadTitle:  title,
		ThreadStatus: status,
	})
}
