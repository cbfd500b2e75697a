package config

import (
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/robotmemory/keydrive/input/terminal"
)

func TestAttributeMap(t *testing.T) {
	am := AttributeMap{
		"release_after": "250ms",
		"name":          "tty",
		"count":         3,
	}
	var cfg terminal.Config
	err := AttributeMap{"release_after": "250ms"}.Decode(&cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ReleaseAfter, test.ShouldEqual, 250*time.Millisecond)

	// a nil map decodes to the zero config
	cfg = terminal.Config{}
	test.That(t, AttributeMap(nil).Decode(&cfg), test.ShouldBeNil)
	test.That(t, cfg, test.ShouldResemble, terminal.Config{})

	err = am.Decode(&cfg)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "name")

	// bare numbers are not durations
	cfg = terminal.Config{}
	err = AttributeMap{"release_after": 600}.Decode(&cfg)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "200ms")
}
