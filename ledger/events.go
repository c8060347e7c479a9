package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"light/shielded-pool/logging"
	"light/shielded-pool/primitives"

	"github.com/syndtr/goleveldb/leveldb"
)

// Event is an entry of the ledger's append-only log, the feed indexers
// follow to observe final outcomes.
type Event struct {
	Seq     uint64                        `json:"seq"`
	Name    string                        `json:"name"`
	Offset  *primitives.ComputationOffset `json:"offset,omitempty"`
	Payload json.RawMessage               `json:"payload"`
	Time    time.Time                     `json:"time"`
}

// Emit queues an event; it is persisted with the instruction's writes.
func (tx *Tx) Emit(name string, offset *primitives.ComputationOffset, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	tx.events = append(tx.events, Event{Name: name, Offset: offset, Payload: data, Time: time.Now().UTC()})
	return nil
}

// Events returns the events queued so far in this instruction.
func (tx *Tx) Events() []Event {
	return tx.events
}

func (tx *Tx) appendEvents(batch *leveldb.Batch) error {
	if len(tx.events) == 0 {
		return nil
	}
	raw, err := tx.store.get([]byte(keyEventSeq))
	if err != nil {
		return err
	}
	var seq uint64
	if raw != nil {
		seq = binary.BigEndian.Uint64(raw)
	}
	for i := range tx.events {
		tx.events[i].Seq = seq
		data, err := json.Marshal(&tx.events[i])
		if err != nil {
			return err
		}
		batch.Put(eventKey(seq), data)
		seq++
	}
	batch.Put([]byte(keyEventSeq), binary.BigEndian.AppendUint64(nil, seq))
	return nil
}

// Events returns up to limit committed events starting at sequence number from.
func (l *Ledger) Events(from uint64, limit int) ([]Event, error) {
	var out []Event
	err := l.store.iterate([]byte(prefixEvent), eventKey(from), func(_, value []byte) (bool, error) {
		var ev Event
		if err := json.Unmarshal(value, &ev); err != nil {
			return false, err
		}
		out = append(out, ev)
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}

// Subscribe delivers every committed event to the returned channel until the
// cancel function is called. Slow subscribers miss events rather than block
// the ledger.
func (l *Ledger) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	l.subMu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subscribers[id] = ch
	l.subMu.Unlock()
	cancel := func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		if c, ok := l.subscribers[id]; ok {
			close(c)
			delete(l.subscribers, id)
		}
	}
	return ch, cancel
}

func (l *Ledger) publish(events []Event) {
	for _, ev := range events {
		logEvent := logging.Logger().Info().Uint64("seq", ev.Seq).Str("event", ev.Name)
		if ev.Offset != nil {
			logEvent = logEvent.Uint64("computation_offset", uint64(*ev.Offset))
		}
		logEvent.Msg("ledger event")
	}
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.subscribers {
		for _, ev := range events {
			select {
			case ch <- ev:
			default:
				logging.Logger().Warn().Uint64("seq", ev.Seq).Msg("dropping event for slow subscriber")
			}
		}
	}
}
