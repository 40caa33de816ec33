package supervisor

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
)

// Prober checks whether a process is serving. A nil error means ready.
type Prober interface {
	Probe(ctx context.Context, url string, pid int) error
}

// HTTPProber issues GET requests against the health URL. A 2xx response is
// ready unless its JSON body names a different pid.
type HTTPProber struct {
	Client *http.Client
}

type healthBody struct {
	PID int `json:"pid"`
}

func (p HTTPProber) Probe(ctx context.Context, url string, pid int) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	var hb healthBody
	if err := sonic.Unmarshal(body, &hb); err == nil && hb.PID != 0 && pid != 0 && hb.PID != pid {
		return fmt.Errorf("%w: pid %d, want %d", ErrForeignProcess, hb.PID, pid)
	}
	return nil
}
