package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/exchange-calendar-service/internal/calendar"
	"github.com/dgnsrekt/exchange-calendar-service/internal/client"
	"github.com/dgnsrekt/exchange-calendar-service/internal/provider"
)

func venuesCmd() *cobra.Command {
	var names bool
	cmd := &cobra.Command{
		Use:   "venues",
		Short: "List the venues the service knows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if names {
				m, err := c.VenueNames(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, m)
			}
			v, err := c.Venues(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
	cmd.Flags().BoolVar(&names, "names", false, "include venue names")
	return cmd
}

func timezonesCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "timezones [MIC]",
		Short: "Show venue timezones",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			venue := ""
			if len(args) == 1 {
				venue = args[0]
			}
			zones, err := newClient().Timezones(cmd.Context(), venue, !raw)
			if err != nil {
				return err
			}
			return printJSON(cmd, zones)
		},
	}
	cmd.Flags().BoolVar(&raw, "iana", false, "report IANA names instead of standard abbreviations")
	return cmd
}

func specialDaysCmd() *cobra.Command {
	var (
		year int
		tz   string
		ics  bool
	)
	cmd := &cobra.Command{
		Use:   "special-days MIC",
		Short: "List the special days of a venue for a year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if ics {
				feed, err := c.SpecialDaysICS(cmd.Context(), args[0], year, tz)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), feed)
				return err
			}
			days, err := c.SpecialDays(cmd.Context(), args[0], year, tz)
			if err != nil {
				return err
			}
			return printJSON(cmd, days)
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "year (default current year)")
	cmd.Flags().StringVar(&tz, "tz", "", "timezone for session times")
	cmd.Flags().BoolVar(&ics, "ics", false, "print an iCalendar feed instead of JSON")
	return cmd
}

func classifyCmd() *cobra.Command {
	var (
		venue string
		tz    string
	)
	cmd := &cobra.Command{
		Use:   "classify YYYY-MM-DD",
		Short: "Classify a day for one or all venues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := civil.ParseDate(args[0])
			if err != nil {
				return fmt.Errorf("invalid date format (use YYYY-MM-DD): %w", err)
			}
			c := newClient()
			if venue != "" {
				res, err := c.ClassifyDay(cmd.Context(), venue, day, tz)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			}
			res, err := c.ClassifyDayAll(cmd.Context(), day, tz)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&venue, "mic", "", "venue to classify for (default all)")
	cmd.Flags().StringVar(&tz, "tz", "", "timezone for session times")
	return cmd
}

func nextCmd() *cobra.Command {
	var (
		day       string
		exclusive bool
		backward  bool
		venues    []string
		types     []string
		n         int
		rangeDays int
		tz        string
		skipBad   bool
		business  bool
	)
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Find the next or previous special or business days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inclusive, forward := !exclusive, !backward
			q := client.SearchParams{
				Inclusive:    &inclusive,
				Forward:      &forward,
				Venues:       venues,
				N:            n,
				Timezone:     tz,
				SkipBadDates: skipBad,
			}
			if day != "" {
				d, err := civil.ParseDate(day)
				if err != nil {
					return fmt.Errorf("invalid date format (use YYYY-MM-DD): %w", err)
				}
				q.Day = &d
			}
			if cmd.Flags().Changed("range") {
				q.Range = &rangeDays
			}
			for _, raw := range types {
				t, err := calendar.ParseDayType(raw)
				if err != nil {
					return err
				}
				q.Types = append(q.Types, t)
			}

			c := newClient()
			search := c.NextSpecialDays
			if business {
				search = c.NextBusinessDays
			}
			days, err := search(cmd.Context(), q)
			if errors.Is(err, client.ErrRangeExceeded) {
				logger.Warn("search range exceeded, result is partial", zap.Int("found", len(days)))
				err = nil
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, days)
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "reference day (default today)")
	cmd.Flags().BoolVar(&exclusive, "exclusive", false, "exclude the reference day")
	cmd.Flags().BoolVar(&backward, "backward", false, "search backwards")
	cmd.Flags().StringSliceVar(&venues, "mic", nil, "venues to search (default all)")
	cmd.Flags().StringSliceVar(&types, "types", nil, "day types to include")
	cmd.Flags().IntVarP(&n, "count", "n", 1, "number of days to find")
	cmd.Flags().IntVar(&rangeDays, "range", 0, "maximum distance in days")
	cmd.Flags().StringVar(&tz, "tz", "", "timezone for session times")
	cmd.Flags().BoolVar(&skipBad, "skip-bad-dates", false, "skip dates tagged as bad (backward searches only)")
	cmd.Flags().BoolVar(&business, "business", false, "search business days instead of special days")
	return cmd
}

func updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update FILE",
		Short: "Replace the service's change sets with those in a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := readChangeSets(args[0])
			if err != nil {
				return err
			}
			res, err := newClient().Update(cmd.Context(), changes)
			if err != nil {
				return err
			}
			logger.Info("update sent",
				zap.String("id", res.ID),
				zap.String("status", res.Status),
			)
			return printJSON(cmd, res)
		},
	}
}

// readChangeSets decodes a change-set file, choosing the format by extension.
func readChangeSets(path string) (provider.ChangeSets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var changes provider.ChangeSets
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &changes)
	default:
		err = yaml.Unmarshal(data, &changes)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	for venue, cs := range changes {
		if err := cs.Validate(); err != nil {
			return nil, fmt.Errorf("%s: venue %s: %w", path, venue, err)
		}
	}
	return changes, nil
}
