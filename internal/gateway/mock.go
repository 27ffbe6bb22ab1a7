package gateway

import (
	"context"
	"fmt"
	"strings"
)

// Mock is an offline gateway for local development and tests. Each
// role returns a canned response derived from its input so downstream
// stages still see plausible data flowing through the pipeline.
type Mock struct{}

// NewMock creates a mock gateway.
func NewMock() *Mock {
	return &Mock{}
}

var _ Gateway = (*Mock)(nil)

// Invoke returns a deterministic per-role response.
func (m *Mock) Invoke(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	// The solving-steps breakdown feeds guided tutoring, so that reply
	// carries real numbered steps instead of the echo placeholder.
	if strings.Contains(req.Prompt, "解题步骤") {
		return "1. 识别食物链结构：草（第一营养级）→兔→狐\n" +
			"2. 提取已知条件：草固定太阳能1000kJ，传递效率10%-20%\n" +
			"3. 计算狐获得的能量：1000kJ × 20% × 20% = 40kJ\n" +
			"4. 得出最终答案：狐最多能获得40kJ能量", nil
	}
	return fmt.Sprintf("[mock %s] %s", req.Role, truncate(req.Prompt, 80)), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
