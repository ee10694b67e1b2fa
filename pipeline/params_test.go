package pipeline

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/beamline/viewscreen/ndarray"
)

func TestParamStore(t *testing.T) {
	p := NewParamStore()
	_, ok := p.Get("X")
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, p.String("X"), test.ShouldEqual, "")
	_, err := p.Float("X")
	test.That(t, err, test.ShouldBeError, errors.New("parameter X is not set"))

	p.Set("X", "3.5")
	f, err := p.Float("X")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f, test.ShouldEqual, 3.5)

	p.Set("N", 2.0)
	n, err := p.Int("N")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 2)

	p.Set("S", "abc")
	_, err = p.Int("S")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "parameter S")

	test.That(t, p.Names(), test.ShouldResemble, []string{"N", "S", "X"})

	attrs := ndarray.NewAttributeList()
	p.AttachTo(attrs)
	test.That(t, attrs.Len(), test.ShouldEqual, 3)
	attr, ok := attrs.Find("S")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, attr.Value, test.ShouldEqual, "abc")
}

func TestParamStoreWrite(t *testing.T) {
	p := NewParamStore()
	var seen []string
	p.Watch(func(name string, value interface{}) {
		seen = append(seen, name)
	})

	var handled []interface{}
	p.HandleWrite("FILE", func(value interface{}) error {
		handled = append(handled, value)
		if value == "bad" {
			return errors.New("rejected")
		}
		return nil
	})

	p.Set("FILE", "internal")
	test.That(t, handled, test.ShouldBeEmpty)

	test.That(t, p.Write("FILE", "a.xml"), test.ShouldBeNil)
	test.That(t, handled, test.ShouldResemble, []interface{}{"a.xml"})
	test.That(t, p.Write("FILE", "bad"), test.ShouldBeError, errors.New("rejected"))
	test.That(t, p.String("FILE"), test.ShouldEqual, "bad")

	test.That(t, p.Write("OTHER", 1), test.ShouldBeNil)
	test.That(t, seen, test.ShouldResemble, []string{"FILE", "FILE", "FILE", "OTHER"})
}
