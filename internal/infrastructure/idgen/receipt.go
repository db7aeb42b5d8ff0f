// Package idgen issues receipt numbers.
package idgen

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stallmarket/backend/internal/domain/billing"
)

// ReceiptGenerator issues receipt numbers of the form RCT-YYYYMMDD-<id>.
// The id part is a snowflake, so numbers stay unique across instances as
// long as each runs with its own node ID.
type ReceiptGenerator struct {
	node *snowflake.Node
}

// NewReceiptGenerator creates a generator for the given node (0-1023)
func NewReceiptGenerator(nodeID int64) (*ReceiptGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("invalid receipt node %d: %w", nodeID, err)
	}
	return &ReceiptGenerator{node: node}, nil
}

// NextReceiptNumber implements billing.ReceiptNumberer
func (g *ReceiptGenerator) NextReceiptNumber(at time.Time) string {
	id := g.node.Generate()
	return "RCT-" + at.UTC().Format("20060102") + "-" + strings.ToUpper(id.Base36())
}

var _ billing.ReceiptNumberer = (*ReceiptGenerator)(nil)
