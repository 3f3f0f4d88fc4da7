// Package archive ships the broadcast log out of the relay process. The relay
// side (Publisher) emits records asynchronously over NATS and never waits on
// the network; the archiver side (Store) writes them to PostgreSQL. The relay
// never reads the archive back.
package archive

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/chatwave/relay/internal/chat"
	"github.com/chatwave/relay/internal/metrics"
)

// Record kinds. They double as the last token of the NATS subject.
const (
	KindMessage  = "message"
	KindReaction = "reaction"
)

// Record is one archived state of a broadcast message. Instance identifies
// the relay process, since message ids restart with every process.
type Record struct {
	Instance string       `json:"instance"`
	Kind     string       `json:"kind"`
	Message  chat.Message `json:"message"`
	At       time.Time    `json:"at"`
}

// Sink is where encoded records go. *messaging.NATSClient satisfies it.
type Sink interface {
	PublishArchive(kind string, data []byte) error
}

// Publisher queues records in a bounded channel drained by one goroutine.
// When the queue is full records are dropped, so a slow or unavailable sink
// never delays chat traffic.
type Publisher struct {
	sink     Sink
	instance string
	queue    chan Record
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	now      func() time.Time
}

// NewPublisher creates a Publisher with room for buffer pending records.
func NewPublisher(sink Sink, instance string, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Publisher{
		sink:     sink,
		instance: instance,
		queue:    make(chan Record, buffer),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the drain goroutine.
func (p *Publisher) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case r := <-p.queue:
				p.publish(r)
			case <-p.done:
				// Flush what is already queued, then exit.
				for {
					select {
					case r := <-p.queue:
						p.publish(r)
					default:
						return
					}
				}
			}
		}
	}()
}

// ArchiveMessage queues a newly appended message.
func (p *Publisher) ArchiveMessage(m chat.Message) {
	p.enqueue(KindMessage, m)
}

// ArchiveReaction queues the new state of a message after a reaction toggle.
func (p *Publisher) ArchiveReaction(m chat.Message) {
	p.enqueue(KindReaction, m)
}

// Close stops the drain goroutine after flushing queued records.
func (p *Publisher) Close() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Publisher) enqueue(kind string, m chat.Message) {
	r := Record{Instance: p.instance, Kind: kind, Message: m, At: p.now().UTC()}
	select {
	case p.queue <- r:
	default:
		metrics.ArchiveTotal.WithLabelValues("dropped").Inc()
		log.Printf("[archive] queue full, dropping %s record id=%s", kind, m.ID)
	}
}

func (p *Publisher) publish(r Record) {
	data, err := json.Marshal(r)
	if err != nil {
		metrics.ArchiveTotal.WithLabelValues("failed").Inc()
		log.Printf("[archive] marshal %s record id=%s: %v", r.Kind, r.Message.ID, err)
		return
	}
	if err := p.sink.PublishArchive(r.Kind, data); err != nil {
		metrics.ArchiveTotal.WithLabelValues("failed").Inc()
		log.Printf("[archive] publish %s record id=%s: %v", r.Kind, r.Message.ID, err)
		return
	}
	metrics.ArchiveTotal.WithLabelValues("published").Inc()
}
