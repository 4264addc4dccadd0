package tools

import (
	"context"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

func (r *Registry) registerTimeTools() {
	r.Register(&Tool{
		Name:        "get_current_time",
		Description: "Get the current date and time, including weekday and month progress. Use for any 'today' or 'now' question.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: handleCurrentTime,
	})

	r.Register(&Tool{
		Name:        "get_date_difference",
		Description: "Calculate the number of days, weeks, and months between two dates.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start_date": map[string]any{"type": "string", "description": "Start date, YYYY-MM-DD"},
				"end_date":   map[string]any{"type": "string", "description": "End date, YYYY-MM-DD"},
			},
			"required": []string{"start_date", "end_date"},
		},
		Handler: handleDateDifference,
	})

	r.Register(&Tool{
		Name:        "add_to_date",
		Description: "Add days, weeks, or months to a date and return the resulting date.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start_date": map[string]any{"type": "string", "description": "Start date, YYYY-MM-DD; defaults to today"},
				"days":       map[string]any{"type": "integer", "description": "Days to add"},
				"weeks":      map[string]any{"type": "integer", "description": "Weeks to add"},
				"months":     map[string]any{"type": "integer", "description": "Months to add"},
			},
		},
		Handler: handleAddToDate,
	})

	r.Register(&Tool{
		Name:        "calculate_age",
		Description: "Calculate a person's age in years from their birth date.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"birth_date": map[string]any{"type": "string", "description": "Birth date, YYYY-MM-DD"},
			},
			"required": []string{"birth_date"},
		},
		Handler: handleCalculateAge,
	})
}

func handleCurrentTime(_ context.Context, _ map[string]any) (string, error) {
	now := time.Now()
	daysInMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, now.Location()).Day()
	return toolJSON(map[string]any{
		"datetime":       now.Format(time.RFC3339),
		"date":           now.Format(dateLayout),
		"time":           now.Format("15:04"),
		"weekday":        now.Weekday().String(),
		"day_of_month":   now.Day(),
		"days_in_month":  daysInMonth,
		"days_remaining": daysInMonth - now.Day(),
		"year":           now.Year(),
	}), nil
}

func handleDateDifference(_ context.Context, args map[string]any) (string, error) {
	start, err := time.Parse(dateLayout, stringArg(args, "start_date"))
	if err != nil {
		return "", fmt.Errorf("start_date must be YYYY-MM-DD: %w", err)
	}
	end, err := time.Parse(dateLayout, stringArg(args, "end_date"))
	if err != nil {
		return "", fmt.Errorf("end_date must be YYYY-MM-DD: %w", err)
	}

	days := int(end.Sub(start).Hours() / 24)
	return toolJSON(map[string]any{
		"start_date":   start.Format(dateLayout),
		"end_date":     end.Format(dateLayout),
		"days":         days,
		"weeks":        days / 7,
		"months_approx": days / 30,
	}), nil
}

func handleAddToDate(_ context.Context, args map[string]any) (string, error) {
	start := time.Now()
	if s := stringArg(args, "start_date"); s != "" {
		parsed, err := time.Parse(dateLayout, s)
		if err != nil {
			return "", fmt.Errorf("start_date must be YYYY-MM-DD: %w", err)
		}
		start = parsed
	}

	days := intArgDefault(args, "days", 0) + 7*intArgDefault(args, "weeks", 0)
	months := intArgDefault(args, "months", 0)
	result := start.AddDate(0, months, days)

	return toolJSON(map[string]any{
		"start_date":  start.Format(dateLayout),
		"result_date": result.Format(dateLayout),
		"weekday":     result.Weekday().String(),
	}), nil
}

func handleCalculateAge(_ context.Context, args map[string]any) (string, error) {
	birth, err := time.Parse(dateLayout, stringArg(args, "birth_date"))
	if err != nil {
		return "", fmt.Errorf("birth_date must be YYYY-MM-DD: %w", err)
	}
	now := time.Now()
	if birth.After(now) {
		return "", fmt.Errorf("birth_date is in the future")
	}

	years := now.Year() - birth.Year()
	anniversary := time.Date(now.Year(), birth.Month(), birth.Day(), 0, 0, 0, 0, time.UTC)
	if now.Before(anniversary) {
		years--
	}

	return toolJSON(map[string]any{
		"birth_date":    birth.Format(dateLayout),
		"age_years":     years,
		"next_birthday": nextBirthday(birth, now).Format(dateLayout),
	}), nil
}

func nextBirthday(birth, now time.Time) time.Time {
	next := time.Date(now.Year(), birth.Month(), birth.Day(), 0, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(1, 0, 0)
	}
	return next
}
