package attachments

import (
	"context"
	"testing"
)

func TestIsComplexPage(t *testing.T) {
	cases := []struct {
		name string
		page PDFPage
		want bool
	}{
		{"has images", PDFPage{ImageCount: 2, Text: "plenty of normal prose that is not short at all and keeps going on"}, true},
		{"table marker", PDFPage{Text: "col1 | col2 | col3\nrow1 | row2 | row3"}, true},
		{"sparse text", PDFPage{Text: "short"}, true},
		{"diagram keyword", PDFPage{Text: "see figure 3 below for the full breakdown of this very long paragraph of text, which runs on well past the sparse-text cutoff"}, true},
		{"plain long text", PDFPage{Text: "this is a perfectly ordinary page of body text with nothing special about it at all, just prose that keeps going for a few more words"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isComplexPage(tc.page); got != tc.want {
				t.Errorf("isComplexPage(%+v) = %v, want %v", tc.page, got, tc.want)
			}
		})
	}
}

func TestNaivePDFPagerExtractsParenText(t *testing.T) {
	data := []byte(`1 0 obj << >> stream BT (Hello) Tj (World) TJ ET endstream endobj`)
	pager := NewNaivePDFPager()
	pages, err := pager.ExtractPages(context.Background(), data)
	if err != nil {
		t.Fatalf("ExtractPages: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	if pages[0].Text == "" {
		t.Errorf("expected extracted text, got empty")
	}
}

func TestNaivePDFPagerRejectsEmpty(t *testing.T) {
	pager := NewNaivePDFPager()
	if _, err := pager.ExtractPages(context.Background(), nil); err == nil {
		t.Error("expected error for empty pdf data")
	}
}
