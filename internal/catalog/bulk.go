package catalog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ilvar/espg/internal/dsl"
)

// BulkOperation is one action/source pair of a bulk payload.
type BulkOperation struct {
	Action string
	Document
}

// ParseBulk reads newline-delimited bulk actions. index, create and delete
// actions are understood; defaultIndex fills in actions without "_index".
func ParseBulk(body []byte, defaultIndex string) ([]BulkOperation, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("bulk parse error: %w", err)
	}

	var operations []BulkOperation
	for i := 0; i < len(lines); i++ {
		var action map[string]struct {
			Index string `json:"_index"`
			Type  string `json:"_type"`
			ID    any    `json:"_id"`
		}
		if err := dsl.Decode([]byte(lines[i]), &action); err != nil || len(action) != 1 {
			return nil, errors.New("invalid bulk action json")
		}

		var op BulkOperation
		for name, meta := range action {
			op.Action = name
			op.Index = meta.Index
			op.Type = meta.Type
			if meta.ID != nil {
				op.ID = fmt.Sprint(meta.ID)
			}
		}
		if op.Index == "" {
			op.Index = defaultIndex
		}
		if op.Index == "" {
			return nil, fmt.Errorf("bulk action %d has no index", len(operations)+1)
		}

		switch op.Action {
		case "delete":
			if op.ID == "" {
				return nil, errors.New("delete action requires _id")
			}
		case "index", "create":
			i++
			if i >= len(lines) {
				return nil, errors.New("invalid bulk payload; expected action and source")
			}
			if err := dsl.Decode([]byte(lines[i]), &op.Source); err != nil {
				return nil, errors.New("invalid bulk source json")
			}
		default:
			return nil, fmt.Errorf("unsupported bulk action [%s]", op.Action)
		}
		operations = append(operations, op)
	}
	return operations, nil
}

// Item renders the per-operation entry of a bulk response.
func (op *BulkOperation) Item(status int, result string) map[string]any {
	return map[string]any{
		op.Action: map[string]any{
			"_index": op.Index,
			"_type":  op.Type,
			"_id":    op.ID,
			"status": status,
			"result": result,
		},
	}
}
