package chunker

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the tokenization used for chunk bounds and context budgets.
const DefaultEncoding = "cl100k_base"

// Tokenizer converts text to token ids and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
	Name() string
}

type tiktokenTokenizer struct {
	name string
	enc  *tiktoken.Tiktoken
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	// Special-token text inside filings is encoded as plain text.
	return t.enc.EncodeOrdinary(text)
}

// Decode replaces bytes of characters cut at a window edge with U+FFFD, so
// every chunk is valid UTF-8.
func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return strings.ToValidUTF8(t.enc.Decode(tokens), "\uFFFD")
}

func (t *tiktokenTokenizer) Name() string { return t.name }

var loadCl100k = sync.OnceValues(func() (Tokenizer, error) {
	// BPE ranks ship inside the binary; no network fetch at runtime.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", DefaultEncoding, err)
	}
	return &tiktokenTokenizer{name: DefaultEncoding, enc: enc}, nil
})

// Cl100k returns the process-wide cl100k_base tokenizer, loading it on first use.
func Cl100k() (Tokenizer, error) {
	return loadCl100k()
}
