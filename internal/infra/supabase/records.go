package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/boddenberg/lending-bfa-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// RecordStore implementation: generic CRUD via PostgREST
// ============================================================

func (c *Client) Get(ctx context.Context, table, id string, out any) error {
	ctx, span := tracer.Start(ctx, "Supabase.Get")
	defer span.End()
	span.SetAttributes(attribute.String("table", table), attribute.String("record.id", id))

	path := fmt.Sprintf("%s?id=eq.%s&limit=1", table, url.QueryEscape(id))
	body, err := c.execute(ctx, http.MethodGet, path, nil)
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/" + table, Err: err}
	}

	found, err := decodeFirst(body, out)
	if err != nil {
		return fmt.Errorf("decode %s: %w", table, err)
	}
	if !found {
		return &domain.ErrNotFound{Resource: table, ID: id}
	}
	return nil
}

func (c *Client) Filter(ctx context.Context, table string, match map[string]any, out any) error {
	ctx, span := tracer.Start(ctx, "Supabase.Filter")
	defer span.End()
	span.SetAttributes(attribute.String("table", table), attribute.Int("filter.fields", len(match)))

	path := table
	if q := filterQuery(match); q != "" {
		path += "?" + q
	}
	body, err := c.execute(ctx, http.MethodGet, path, nil)
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/" + table, Err: err}
	}

	if err := decodeList(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", table, err)
	}
	return nil
}

func (c *Client) List(ctx context.Context, table, sortKey string, out any) error {
	ctx, span := tracer.Start(ctx, "Supabase.List")
	defer span.End()
	span.SetAttributes(attribute.String("table", table), attribute.String("sort", sortKey))

	path := table
	if q := orderQuery(sortKey); q != "" {
		path += "?" + q
	}
	body, err := c.execute(ctx, http.MethodGet, path, nil)
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/" + table, Err: err}
	}

	if err := decodeList(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", table, err)
	}
	return nil
}

func (c *Client) Create(ctx context.Context, table string, data map[string]any, out any) error {
	ctx, span := tracer.Start(ctx, "Supabase.Create")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	body, err := c.execute(ctx, http.MethodPost, table, data)
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/" + table, Err: err}
	}

	found, err := decodeFirst(body, out)
	if err != nil {
		return fmt.Errorf("decode created %s: %w", table, err)
	}
	if !found {
		return &domain.ErrExternalService{Service: "supabase/" + table, Err: fmt.Errorf("create returned no row")}
	}
	return nil
}

func (c *Client) Update(ctx context.Context, table, id string, patch map[string]any, out any) error {
	ctx, span := tracer.Start(ctx, "Supabase.Update")
	defer span.End()
	span.SetAttributes(attribute.String("table", table), attribute.String("record.id", id))

	path := fmt.Sprintf("%s?id=eq.%s", table, url.QueryEscape(id))
	body, err := c.execute(ctx, http.MethodPatch, path, patch)
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/" + table, Err: err}
	}

	found, err := decodeFirst(body, out)
	if err != nil {
		return fmt.Errorf("decode updated %s: %w", table, err)
	}
	if !found {
		return &domain.ErrNotFound{Resource: table, ID: id}
	}
	return nil
}
