package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/env"
)

// OrderIDGenerator produces client-visible order ids that double as the
// gateway idempotency key.
type OrderIDGenerator interface {
	NewOrderID() string
}

// SnowflakeOrderIDs builds ids as yyyyMMdd-<snowflake>-<random>. The
// snowflake part is unique per node; the random suffix separates nodes that
// were misconfigured with the same node id.
type SnowflakeOrderIDs struct {
	node *snowflake.Node
	now  func() time.Time
}

func NewSnowflakeOrderIDs(nodeID int64) (*SnowflakeOrderIDs, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &SnowflakeOrderIDs{node: node, now: time.Now}, nil
}

// NewSnowflakeOrderIDsFromEnv reads the node id from NODE_ID (default 1).
// A malformed or out-of-range value is an error, never node 0.
func NewSnowflakeOrderIDsFromEnv() (*SnowflakeOrderIDs, error) {
	raw := strings.TrimSpace(env.GetEnv("NODE_ID", "1"))
	nodeID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid NODE_ID %q: %w", raw, err)
	}
	ids, err := NewSnowflakeOrderIDs(nodeID)
	if err != nil {
		return nil, fmt.Errorf("invalid NODE_ID %q: %w", raw, err)
	}
	return ids, nil
}

func (g *SnowflakeOrderIDs) NewOrderID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return g.now().UTC().Format("20060102") + "-" + g.node.Generate().String() + "-" + suffix
}
