package agent

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"frontdesk/internal/domain"
)

// staleOccupancy is how old a reading may be before it is reported as unknown.
const staleOccupancy = 30 * time.Minute

// CrowdWorker reports live studio occupancy from the Redis hash
// crowd:<tenant> (fields current, capacity, updated_at as unix seconds),
// written by the studio's door counter.
type CrowdWorker struct {
	client redis.Cmdable
	now    func() time.Time
}

func NewCrowdWorker(client redis.Cmdable) *CrowdWorker {
	return &CrowdWorker{client: client, now: time.Now}
}

func crowdKey(tenantID string) string { return "crowd:" + tenantID }

func (c *CrowdWorker) Handle(ctx context.Context, msg domain.InboundMessage) (*domain.WorkerResult, error) {
	if msg.TenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	fields, err := c.client.HGetAll(ctx, crowdKey(msg.TenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read occupancy: %w", err)
	}

	current, errCur := strconv.Atoi(fields["current"])
	if len(fields) == 0 || errCur != nil {
		return &domain.WorkerResult{Content: "No live occupancy data is available right now.", Confidence: 0.3}, nil
	}
	if ts, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		if c.now().Sub(time.Unix(ts, 0)) > staleOccupancy {
			return &domain.WorkerResult{Content: "No recent occupancy data is available right now.", Confidence: 0.3}, nil
		}
	}

	capacity, _ := strconv.Atoi(fields["capacity"])
	if capacity <= 0 {
		return &domain.WorkerResult{
			Content:    fmt.Sprintf("There are currently %d people in the studio.", current),
			Confidence: 0.8,
		}, nil
	}
	pct := current * 100 / capacity
	return &domain.WorkerResult{
		Content:    fmt.Sprintf("There are currently %d people in the studio (%d%% of capacity, %s).", current, pct, crowdLevel(pct)),
		Confidence: 0.9,
		Metadata:   map[string]any{"occupancy_pct": pct},
	}, nil
}

func crowdLevel(pct int) string {
	switch {
	case pct < 40:
		return "quiet"
	case pct < 75:
		return "moderately busy"
	default:
		return "very busy"
	}
}
