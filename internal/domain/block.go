package domain

import "time"

// Block is persisted chain block metadata. The (number, hash) pair is what
// reorg detection compares against the upstream chain; on an orphaned block
// the row and everything derived from its hash are deleted wholesale and
// re-derived by the next sync.
type Block struct {
	Number     uint64
	Hash       string
	ParentHash string
	Timestamp  time.Time
}

// CallFrame is one node of a transaction's execution trace as produced by a
// call tracer. Protocol handlers walk it to recover exchange calldata that
// the emitted logs omit. Hex string fields mirror the RPC wire format.
type CallFrame struct {
	Type  string      `json:"type"`
	From  string      `json:"from"`
	To    string      `json:"to"`
	Value string      `json:"value,omitempty"`
	Input string      `json:"input"`
	Calls []CallFrame `json:"calls,omitempty"`
}

// FindCalls returns every frame (including nested ones) whose target matches
// the given address, in depth-first order.
func (cf *CallFrame) FindCalls(to string) []CallFrame {
	var out []CallFrame
	var walk func(f CallFrame)
	walk = func(f CallFrame) {
		if equalAddress(f.To, to) {
			out = append(out, f)
		}
		for _, sub := range f.Calls {
			walk(sub)
		}
	}
	walk(*cf)
	return out
}

func equalAddress(a, b string) bool {
	return len(a) == len(b) && len(a) > 2 && lowerEq(a, b)
}

func lowerEq(a, b string) bool {
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
