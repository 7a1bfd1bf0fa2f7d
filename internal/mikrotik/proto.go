package mikrotik

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Reply words sent by RouterOS at the start of each sentence
const (
	replyRe    = "!re"
	replyDone  = "!done"
	replyTrap  = "!trap"
	replyFatal = "!fatal"
)

// EncodeLength returns the RouterOS API length prefix for a word of n bytes.
func EncodeLength(n int) []byte {
	switch {
	case n < 0x80:
		return []byte{byte(n)}
	case n < 0x4000:
		return []byte{byte(n>>8) | 0x80, byte(n)}
	case n < 0x200000:
		return []byte{byte(n>>16) | 0xC0, byte(n >> 8), byte(n)}
	case n < 0x10000000:
		return []byte{byte(n>>24) | 0xE0, byte(n >> 16), byte(n >> 8), byte(n)}
	default:
		return []byte{0xF0, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	}
}

// ReadLength decodes one length prefix.
func ReadLength(r *bufio.Reader) (int, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}

	var extra int
	var n int
	switch {
	case first < 0x80:
		return int(first), nil
	case first < 0xC0:
		n, extra = int(first&0x3F), 1
	case first < 0xE0:
		n, extra = int(first&0x1F), 2
	case first < 0xF0:
		n, extra = int(first&0x0F), 3
	case first == 0xF0:
		n, extra = 0, 4
	default:
		return 0, fmt.Errorf("invalid length prefix 0x%02x", first)
	}

	for i := 0; i < extra; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		n = n<<8 | int(b)
	}
	return n, nil
}

// WriteSentence writes words followed by the empty terminator word.
func WriteSentence(w io.Writer, words ...string) error {
	bw := bufio.NewWriter(w)
	for _, word := range words {
		if _, err := bw.Write(EncodeLength(len(word))); err != nil {
			return err
		}
		if _, err := bw.WriteString(word); err != nil {
			return err
		}
	}
	if err := bw.WriteByte(0); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadSentence reads words up to the empty terminator word.
func ReadSentence(r *bufio.Reader) ([]string, error) {
	var words []string
	for {
		n, err := ReadLength(r)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return words, nil
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		words = append(words, string(buf))
	}
}

// Sentence is one parsed reply sentence.
type Sentence struct {
	Reply string
	Tag   string
	Attrs map[string]string
}

// ParseSentence splits the reply word from =key=value attributes.
func ParseSentence(words []string) Sentence {
	s := Sentence{Attrs: make(map[string]string)}
	for i, word := range words {
		if i == 0 && strings.HasPrefix(word, "!") {
			s.Reply = word
			continue
		}
		if strings.HasPrefix(word, ".tag=") {
			s.Tag = strings.TrimPrefix(word, ".tag=")
			continue
		}
		if strings.HasPrefix(word, "=") {
			parts := strings.SplitN(word[1:], "=", 2)
			if len(parts) == 2 {
				s.Attrs[parts[0]] = parts[1]
			} else {
				s.Attrs[parts[0]] = ""
			}
		}
	}
	return s
}
