package eventbus

import "testing"

func TestPublishFanout(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: MailSent, Data: MailOutcome{To: 1}})
	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != MailSent || e.Time.IsZero() {
			t.Fatalf("event=%+v", e)
		}
		if e.Data.(MailOutcome).To != 1 {
			t.Fatalf("data=%+v", e.Data)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "x"})
	b.Publish(Event{Type: "y"}) // buffer full: dropped
	if b.Dropped() != 1 {
		t.Fatalf("dropped=%d", b.Dropped())
	}
}

func TestUnsubscribeCloses(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open")
	}
	b.Publish(Event{Type: "after"})
}

func TestSubscribePrefixFilter(t *testing.T) {
	b := New()
	mail, unsubMail := b.Subscribe(4, "mail.")
	all, unsubAll := b.Subscribe(4)
	defer unsubMail()
	defer unsubAll()

	b.Publish(Event{Type: "config.reloaded"})
	b.Publish(Event{Type: MailRetry})

	if e := <-mail; e.Type != MailRetry {
		t.Fatalf("filtered subscriber got %q", e.Type)
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered subscriber got %d events", len(all))
	}
}
