package messaging

import "testing"

func TestFirstName(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"Jane Doe":     "Jane",
		"  Bob\tJones": "Bob",
		"Cher":         "Cher",
		"":             "",
		"   ":          "",
	} {
		if got := FirstName(in); got != want {
			t.Fatalf("FirstName(%q)=%q want %q", in, got, want)
		}
	}
}
