package input_test

import (
	"context"
	"testing"

	"go.viam.com/test"

	"github.com/robotmemory/keydrive/input"
	"github.com/robotmemory/keydrive/input/fake"
)

func TestParseEventType(t *testing.T) {
	for _, valid := range []string{"ButtonPress", "ButtonRelease", "Connect", "Disconnect"} {
		et, err := input.ParseEventType(valid)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, string(et), test.ShouldEqual, valid)
	}

	_, err := input.ParseEventType("ButtonChange")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "only valid for registration")

	_, err = input.ParseEventType("KeyDown")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	d := input.NewDispatcher()

	var presses, releases, all int
	d.Register("z", []input.EventType{input.ButtonPress}, func(ctx context.Context, ev input.Event) {
		presses++
	})
	d.Register("z", []input.EventType{input.ButtonRelease}, func(ctx context.Context, ev input.Event) {
		releases++
	})
	d.Register("z", []input.EventType{input.AllEvents}, func(ctx context.Context, ev input.Event) {
		all++
	})

	d.Dispatch(ctx, input.Event{Event: input.ButtonPress, Control: "z", Value: 1})
	d.Dispatch(ctx, input.Event{Event: input.ButtonRelease, Control: "z"})
	d.Dispatch(ctx, input.Event{Event: input.ButtonPress, Control: "x", Value: 1})

	test.That(t, presses, test.ShouldEqual, 1)
	test.That(t, releases, test.ShouldEqual, 1)
	test.That(t, all, test.ShouldEqual, 2)

	events := d.Events()
	test.That(t, events, test.ShouldHaveLength, 2)
	test.That(t, events["z"].Event, test.ShouldEqual, input.ButtonRelease)
	test.That(t, events["z"].Time.IsZero(), test.ShouldBeFalse)
	test.That(t, events["x"].Value, test.ShouldEqual, 1)

	// removing
	d.Register("z", []input.EventType{input.ButtonPress, input.AllEvents}, nil)
	d.Dispatch(ctx, input.Event{Event: input.ButtonPress, Control: "z", Value: 1})
	test.That(t, presses, test.ShouldEqual, 1)
	test.That(t, all, test.ShouldEqual, 2)
	test.That(t, d.Registered(), test.ShouldResemble, []input.Control{"z"})
}

func TestDispatcherButtonChange(t *testing.T) {
	ctx := context.Background()
	d := input.NewDispatcher()

	var seen []input.EventType
	d.Register("q", []input.EventType{input.ButtonChange}, func(ctx context.Context, ev input.Event) {
		seen = append(seen, ev.Event)
	})
	d.Dispatch(ctx, input.Event{Event: input.ButtonPress, Control: "q", Value: 1})
	d.Dispatch(ctx, input.Event{Event: input.ButtonRelease, Control: "q"})
	test.That(t, seen, test.ShouldResemble, []input.EventType{input.ButtonPress, input.ButtonRelease})
}

func TestFakeController(t *testing.T) {
	ctx := context.Background()
	c := fake.NewController()

	controls, err := c.Controls(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, controls, test.ShouldBeEmpty)

	var got []input.Event
	err = c.RegisterControlCallback(ctx, "d", []input.EventType{input.ButtonChange}, func(ctx context.Context, ev input.Event) {
		got = append(got, ev)
	})
	test.That(t, err, test.ShouldBeNil)

	controls, err = c.Controls(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, controls, test.ShouldResemble, []input.Control{"d"})

	test.That(t, c.Press(ctx, "d"), test.ShouldBeNil)
	test.That(t, c.Release(ctx, "d"), test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, 2)
	test.That(t, got[0].Value, test.ShouldEqual, 1)
	test.That(t, got[1].Event, test.ShouldEqual, input.ButtonRelease)

	events, err := c.Events(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, events["d"].Event, test.ShouldEqual, input.ButtonRelease)

	test.That(t, c.Close(ctx), test.ShouldBeNil)
	test.That(t, c.Press(ctx, "d"), test.ShouldNotBeNil)

	fixed := fake.NewController("a", "b")
	controls, err = fixed.Controls(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, controls, test.ShouldResemble, []input.Control{"a", "b"})
}
