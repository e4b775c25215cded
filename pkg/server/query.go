package server

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

// parseAnalysesRequest maps URL query parameters onto the filter record.
// Keys suffixed with [] carry list values; everything else is scalar. An
// empty comment[] value selects rows without a comment.
func parseAnalysesRequest(query url.Values) (*models.AnalysesRequest, error) {
	req := &models.AnalysesRequest{}

	for _, raw := range arrayParam(query, "status") {
		status, err := models.ParseStatus(raw)
		if err != nil {
			return nil, tberrors.NewInvalidInput("%s", err.Error())
		}
		req.Statuses = append(req.Statuses, status)
	}
	for _, raw := range arrayParam(query, "priority") {
		req.Priorities = append(req.Priorities, models.Priority(raw))
	}
	for _, raw := range arrayParam(query, "type") {
		req.Types = append(req.Types, models.AnalysisType(raw))
	}
	req.Workflows = append(req.Workflows, arrayParam(query, "workflow")...)

	if _, ok := query["comment[]"]; ok {
		for _, raw := range query["comment[]"] {
			if raw == "" {
				req.HasEmptyComment = true
				continue
			}
			req.Comments = append(req.Comments, raw)
		}
	}

	if raw := query.Get("order_id"); raw != "" {
		orderID, err := strconv.Atoi(raw)
		if err != nil {
			return nil, tberrors.NewInvalidInput("order_id must be an integer, got %q", raw)
		}
		req.OrderID = &orderID
	}
	if raw := query.Get("is_visible"); raw != "" {
		visible, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, tberrors.NewInvalidInput("is_visible must be a boolean, got %q", raw)
		}
		req.IsVisible = &visible
	}

	req.CaseIDContains = query.Get("case_id")
	req.Search = query.Get("search")
	req.SortField = query.Get("sort_field")
	req.SortOrder = query.Get("sort_order")

	var err error
	if req.Page, err = intParam(query, "page"); err != nil {
		return nil, err
	}
	if req.PageSize, err = intParam(query, "page_size"); err != nil {
		return nil, err
	}

	return req, nil
}

func arrayParam(query url.Values, name string) []string {
	return query[name+"[]"]
}

func intParam(query url.Values, name string) (int, error) {
	raw := query.Get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, tberrors.NewInvalidInput("%s must be an integer, got %q", name, raw)
	}
	return value, nil
}

// parseOrderIDs reads the comma separated orderIds parameter.
func parseOrderIDs(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, tberrors.NewInvalidInput("orderIds is required")
	}
	parts := strings.Split(raw, ",")
	orderIDs := make([]int, 0, len(parts))
	for _, part := range parts {
		orderID, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, tberrors.NewInvalidInput("orderIds must be integers, got %q", part)
		}
		orderIDs = append(orderIDs, orderID)
	}
	return orderIDs, nil
}
