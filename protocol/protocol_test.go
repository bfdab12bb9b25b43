package protocol

import (
	"bytes"
	"testing"
)

// withSentinel mimics the reader: data followed by the NUL sentinel it writes.
func withSentinel(data string) ([]byte, int) {
	buf := append([]byte(data), Terminator)
	return buf, len(data)
}

func TestSplitSingleDocument(t *testing.T) {
	buf, filled := withSentinel("{\"parameters\":{\"x\":1}}\x00")

	doc, next, ok := Split(buf, 0, filled)
	if !ok {
		t.Fatal("expect a complete document")
	}
	if string(doc) != `{"parameters":{"x":1}}` {
		t.Fatalf("Document mismatch: got %s", doc)
	}
	if next != filled {
		t.Fatalf("expect batch consumed (next=%d), got %d", filled, next)
	}
}

func TestSplitBatch(t *testing.T) {
	buf, filled := withSentinel("{\"a\":1}\x00{\"b\":2}\x00{\"c\":3}\x00")

	var docs []string
	cursor := 0
	for cursor < filled {
		doc, next, ok := Split(buf, cursor, filled)
		if !ok {
			t.Fatalf("expect a complete document at %d", cursor)
		}
		docs = append(docs, string(doc))
		cursor = next
	}

	want := []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}
	if len(docs) != len(want) {
		t.Fatalf("expect %d documents, got %d", len(want), len(docs))
	}
	for i := range want {
		if docs[i] != want[i] {
			t.Errorf("document %d: got %s, want %s", i, docs[i], want[i])
		}
	}
}

func TestSplitSkipsBatchEnd(t *testing.T) {
	buf, filled := withSentinel("{\"a\":1}\x00\x00{\"b\":2}\x00")

	doc, next, ok := Split(buf, 0, filled)
	if !ok || string(doc) != `{"a":1}` {
		t.Fatalf("unexpected first split: %q %v", doc, ok)
	}
	if next != 9 {
		t.Fatalf("expect next=9 after double NUL, got %d", next)
	}

	doc, next, ok = Split(buf, next, filled)
	if !ok || string(doc) != `{"b":2}` {
		t.Fatalf("unexpected second split: %q %v", doc, ok)
	}
	if next != filled {
		t.Fatalf("expect batch consumed, got next=%d", next)
	}
}

func TestSplitPartial(t *testing.T) {
	buf, filled := withSentinel("{\"a\":1}\x00{\"b\"")

	_, next, ok := Split(buf, 0, filled)
	if !ok {
		t.Fatal("expect the first document to be complete")
	}

	// The sentinel must not be mistaken for a terminator.
	if _, _, ok := Split(buf, next, filled); ok {
		t.Fatal("expect partial document to be reported incomplete")
	}
	if HasFrame(buf[next:filled]) {
		t.Fatal("HasFrame should be false for a partial document")
	}
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte(`{"parameters":{}}`)); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if buf.String() != "{\"parameters\":{}}\x00" {
		t.Fatalf("Frame mismatch: %q", buf.String())
	}

	if err := WriteFrame(&buf, []byte("a\x00b")); err != ErrEmbeddedTerminator {
		t.Fatalf("expect ErrEmbeddedTerminator, got %v", err)
	}
}

func TestScanner(t *testing.T) {
	stream := "{\"a\":1}\x00{\"b\":2}\x00\x00{\"c\":3}\x00"
	s := NewScanner(bytes.NewBufferString(stream), 1024)

	var docs []string
	for s.Scan() {
		docs = append(docs, s.Text())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	want := []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}
	if len(docs) != len(want) {
		t.Fatalf("expect %d documents, got %v", len(want), docs)
	}
	for i := range want {
		if docs[i] != want[i] {
			t.Errorf("document %d: got %s, want %s", i, docs[i], want[i])
		}
	}
}

func TestScannerTruncated(t *testing.T) {
	s := NewScanner(bytes.NewBufferString("{\"a\":1}\x00{\"b\""), 1024)

	if !s.Scan() {
		t.Fatalf("expect first document, got err %v", s.Err())
	}
	if s.Scan() {
		t.Fatal("expect truncated document to fail")
	}
	if s.Err() == nil {
		t.Fatal("expect an error for a truncated document")
	}
}
