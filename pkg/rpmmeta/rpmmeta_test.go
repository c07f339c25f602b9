package rpmmeta

import "testing"

func TestParse_MissingFile(t *testing.T) {
	if _, err := Parse("/nonexistent/path.rpm"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSign_MissingFile(t *testing.T) {
	if _, err := Sign("/nonexistent/path.rpm", nil); err == nil {
		t.Error("expected error for missing file")
	}
}
