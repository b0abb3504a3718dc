package notify

import (
	"context"
	"errors"
	"testing"
)

func TestCenter_ShowAssignsID(t *testing.T) {
	c := NewCenter()

	n := &Notification{Title: "Hola", Body: "Mundo"}
	if err := c.Show(context.Background(), n); err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	if n.ID == "" {
		t.Fatal("Show() did not assign an ID")
	}

	got, ok := c.Get(n.ID)
	if !ok {
		t.Fatalf("Get(%q) not found", n.ID)
	}
	if got.Title != "Hola" || got.Body != "Mundo" {
		t.Errorf("Get() = %+v, want title Hola body Mundo", got)
	}
}

func TestCenter_ShowRequiresTitle(t *testing.T) {
	c := NewCenter()

	if err := c.Show(context.Background(), &Notification{Body: "no title"}); err == nil {
		t.Error("Show() error = nil, want error for missing title")
	}
	if err := c.Show(context.Background(), nil); err == nil {
		t.Error("Show(nil) error = nil, want error")
	}
	if got := len(c.Shown()); got != 0 {
		t.Errorf("len(Shown()) = %d, want 0", got)
	}
}

func TestCenter_TagReplaces(t *testing.T) {
	c := NewCenter()
	ctx := context.Background()

	c.Show(ctx, &Notification{Tag: "sync", Title: "first"})
	c.Show(ctx, &Notification{Tag: "other", Title: "other"})
	c.Show(ctx, &Notification{Tag: "sync", Title: "second"})

	shown := c.Shown()
	if len(shown) != 2 {
		t.Fatalf("len(Shown()) = %d, want 2", len(shown))
	}
	if shown[0].Title != "other" || shown[1].Title != "second" {
		t.Errorf("Shown() titles = %q, %q; want other, second", shown[0].Title, shown[1].Title)
	}
}

func TestCenter_Close(t *testing.T) {
	c := NewCenter()
	ctx := context.Background()

	n := &Notification{Title: "Hola"}
	c.Show(ctx, n)

	if err := c.Close(ctx, n.ID); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := len(c.Shown()); got != 0 {
		t.Errorf("len(Shown()) = %d, want 0", got)
	}
	if _, ok := c.Get(n.ID); ok {
		t.Error("Get() after Close found the notification")
	}

	err := c.Close(ctx, n.ID)
	if !errors.Is(err, ErrUnknownNotification) {
		t.Errorf("Close() twice error = %v, want ErrUnknownNotification", err)
	}
}

func TestPushActions(t *testing.T) {
	actions := PushActions()

	if len(actions) != 2 {
		t.Fatalf("len(PushActions()) = %d, want 2", len(actions))
	}
	if actions[0].Action != ActionExplore || actions[0].Title != "Ver más" {
		t.Errorf("actions[0] = %+v, want explore / Ver más", actions[0])
	}
	if actions[1].Action != ActionClose || actions[1].Title != "Cerrar" {
		t.Errorf("actions[1] = %+v, want close / Cerrar", actions[1])
	}
}
