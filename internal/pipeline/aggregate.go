package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/apexgw/apexgw/internal/config"
	"github.com/apexgw/apexgw/internal/observability"
	"github.com/apexgw/apexgw/internal/transform"
)

// aggregate fans out the route's secondary calls and merges their bodies
// into the primary response. A failed secondary leaves its key absent;
// only the primary result decides the overall status.
func (f *UpstreamForwarder) aggregate(ctx context.Context, rc *RequestContext, primary *Response) (*Response, error) {
	if primary.StatusCode < 200 || primary.StatusCode >= 300 {
		return primary, nil
	}

	var (
		mu          sync.Mutex
		secondaries = make(map[string][]byte, len(rc.Route.Config.Aggregations))
		wg          sync.WaitGroup
	)

	for _, agg := range rc.Route.Config.Aggregations {
		wg.Add(1)
		go func(agg config.AggregationConfig) {
			defer wg.Done()

			body, err := f.secondaryCall(ctx, rc, agg)
			if err != nil {
				f.logger.Warn("aggregation call failed, omitting key",
					observability.String("request_id", rc.ID),
					observability.String("key", agg.Key),
					observability.String("service", agg.Service),
					observability.Error(err),
				)
				return
			}

			mu.Lock()
			secondaries[agg.Key] = body
			mu.Unlock()
		}(agg)
	}
	wg.Wait()

	merged, err := transform.MergeAggregate(primary.Body, secondaries)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(primary.Headers)+1)
	for name, value := range primary.Headers {
		headers[name] = value
	}
	headers["Content-Type"] = "application/json"

	return &Response{
		StatusCode: primary.StatusCode,
		Headers:    headers,
		Body:       merged,
	}, nil
}

// secondaryCall performs one aggregation request. Secondary services
// balance round robin independently of the primary route's strategy.
func (f *UpstreamForwarder) secondaryCall(ctx context.Context, rc *RequestContext, agg config.AggregationConfig) ([]byte, error) {
	method := agg.Method
	if method == "" {
		method = "GET"
	}

	path := agg.Path
	if path == "" {
		path = rc.Request.Path
	}

	headers := map[string]string{"X-Request-Id": rc.ID}
	if auth := rc.Request.Header("Authorization"); auth != "" {
		headers["Authorization"] = auth
	}

	req := &Request{
		Method:  strings.ToUpper(method),
		Path:    path,
		Headers: headers,
	}

	resp, err := f.call(ctx, agg.Service, config.StrategyRoundRobin,
		"agg:"+rc.Route.Pattern+":"+agg.Key, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &secondaryStatusError{service: agg.Service, status: resp.StatusCode}
	}
	return resp.Body, nil
}

type secondaryStatusError struct {
	service string
	status  int
}

func (e *secondaryStatusError) Error() string {
	return fmt.Sprintf("secondary service %s returned status %d", e.service, e.status)
}
