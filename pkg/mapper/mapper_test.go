package mapper

import (
	"testing"
	"time"
)

func TestNew_SetsTimeout(t *testing.T) {
	c := New(nil, 5*time.Second)
	if c.timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", c.timeout)
	}
	if c.breaker == nil {
		t.Error("expected a circuit breaker to be constructed")
	}
}

func TestRoutingConstants(t *testing.T) {
	if action != "processFeedView" {
		t.Errorf("action = %q, want processFeedView", action)
	}
	if domainName != "DatasourceMapper" {
		t.Errorf("domainName = %q, want DatasourceMapper", domainName)
	}
}
