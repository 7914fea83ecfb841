package definition

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestYAMLUnmarshal(t *testing.T) {
	raw := `
component: forum
area: posts
ttl: 30s
uses_simple_data: true
uses_static_acceleration: true
static_acceleration_size: -1
invalidation_events: ["forum/posts_updated"]
identifiers: ["courseid", "postid"]
`
	var d Definition
	if err := yaml.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.StaticAccelerationSize != Unbounded {
		t.Fatalf("size = %d, want Unbounded", d.StaticAccelerationSize)
	}
	if !d.IsMultiIdentifier() {
		t.Fatal("expected multi-identifier definition")
	}
}

func TestDefinitionHashStableAndDistinct(t *testing.T) {
	a := Definition{Component: "forum", Area: "posts"}
	b := Definition{Component: "forum", Area: "threads"}

	if a.DefinitionHash() != a.DefinitionHash() {
		t.Fatal("hash must be stable across calls")
	}
	if a.DefinitionHash() == b.DefinitionHash() {
		t.Fatal("distinct areas must hash distinctly")
	}
}

func TestGenerateMultiKeyParts(t *testing.T) {
	d := Definition{}
	d.SetIdentifiers([]string{"courseid", "postid"})

	parts := d.GenerateMultiKeyParts([]string{"7", "42"})
	want := []string{"courseid", "7", "postid", "42"}
	if len(parts) != len(want) {
		t.Fatalf("parts = %v, want %v", parts, want)
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Fatalf("parts[%d] = %q, want %q", i, parts[i], want[i])
		}
	}
}

func TestSetIdentifiersInvalidatesNothingAboutHash(t *testing.T) {
	d := Definition{Component: "c", Area: "a"}
	h1 := d.DefinitionHash()
	d.SetIdentifiers([]string{"x"})
	h2 := d.DefinitionHash()
	if h1 != h2 {
		t.Fatal("identifier changes must not affect the component/area hash")
	}
}

func TestLoadYAMLRegistry(t *testing.T) {
	raw := `
definitions:
  - component: forum
    area: posts
    ttl: 30s
  - component: forum
    area: threads
    uses_static_acceleration: true
    static_acceleration_size: 64
`
	r, err := LoadYAML([]byte(raw))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
	if d := r.Get("forum", "posts"); d == nil || d.Ttl.Seconds() != 30 {
		t.Fatalf("forum/posts = %+v", d)
	}
	if r.Get("forum", "nope") != nil {
		t.Fatal("unknown area must return nil")
	}
}

func TestLoadYAMLRejectsDuplicates(t *testing.T) {
	raw := `
definitions:
  - {component: forum, area: posts}
  - {component: forum, area: posts}
`
	if _, err := LoadYAML([]byte(raw)); err == nil {
		t.Fatal("expected a duplicate-area error")
	}
}
