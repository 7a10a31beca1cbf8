package query

import (
	"errors"
	"sort"
	"strings"
)

// ErrUnknownQuery is returned for a query type not in the catalog
var ErrUnknownQuery = errors.New("unknown query type")

// CategoryGeneral marks catalog queries available for every device type
const CategoryGeneral = "general"

// DefaultDeviceType is the device type assigned to ingested events
const DefaultDeviceType = "water_system"

// Definition is a predefined admin query. SQL holds a {columns} placeholder
// (general queries only) and a {device_filter} placeholder that becomes a
// bound device_type condition.
type Definition struct {
	Name        string
	Description string
	SQL         string
}

// Info is the public description of a catalog query
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

var baseQueries = map[string]Definition{
	"last24h": {
		Name:        "Last 24 Hours",
		Description: "Events from last 24 hours",
		SQL: `SELECT {columns}
FROM water_events
WHERE received_at > NOW() - INTERVAL '24 hours' {device_filter}
ORDER BY received_at DESC`,
	},
	"last_100_events": {
		Name:        "Last 100 Events",
		Description: "Last 100 events",
		SQL: `SELECT {columns}
FROM water_events
WHERE 1=1 {device_filter}
ORDER BY received_at DESC
LIMIT 100`,
	},
	"all_events": {
		Name:        "All Events",
		Description: "All events",
		SQL: `SELECT {columns}
FROM water_events
WHERE 1=1 {device_filter}
ORDER BY received_at DESC`,
	},
	"errors": {
		Name:        "System Errors",
		Description: "Events with error status",
		SQL: `SELECT {columns}
FROM water_events
WHERE system_status = 'ERROR' {device_filter}
ORDER BY received_at DESC`,
	},
	"today_stats": {
		Name:        "Today's Statistics",
		Description: "Event counts and volumes for today",
		SQL: `SELECT event_type, COUNT(*) AS count, COALESCE(SUM(volume_ml), 0) AS total_ml
FROM water_events
WHERE received_at >= CURRENT_DATE {device_filter}
GROUP BY event_type`,
	},
}

var deviceQueries = map[string]map[string]Definition{
	DefaultDeviceType: {
		"algorithm_stats": {
			Name:        "Algorithm Statistics",
			Description: "Weekly algorithm performance stats",
			SQL: `SELECT
    COUNT(*) AS total_cycles,
    ROUND(AVG(time_gap_1), 2) AS avg_turn_on_delay,
    ROUND(AVG(time_gap_2), 2) AS avg_turn_off_delay,
    ROUND(AVG(water_trigger_time), 2) AS avg_water_fill_delay,
    ROUND(AVG(pump_duration), 2) AS avg_pump_run_time,
    SUM(gap1_fail_sum) AS total_turn_on_failures,
    SUM(gap2_fail_sum) AS total_turn_off_failures,
    SUM(water_fail_sum) AS total_water_fill_failures
FROM water_events
WHERE event_type = 'AUTO_CYCLE_COMPLETE'
    AND received_at > NOW() - INTERVAL '7 days'
    {device_filter}`,
		},
		"algorithm_failures": {
			Name:        "Algorithm Issues",
			Description: "Cycles with failures or multiple attempts",
			SQL: `SELECT id, timestamp, device_id, time_gap_1, time_gap_2, water_trigger_time,
       gap1_fail_sum, gap2_fail_sum, water_fail_sum, pump_attempts,
       pump_duration, volume_ml, algorithm_data, received_at
FROM water_events
WHERE event_type = 'AUTO_CYCLE_COMPLETE'
    AND (gap1_fail_sum > 0 OR gap2_fail_sum > 0 OR water_fail_sum > 0 OR pump_attempts > 1)
    {device_filter}
ORDER BY received_at DESC`,
		},
		"pump_operations": {
			Name:        "Pump Operations",
			Description: "All pump-related events",
			SQL: `SELECT id, device_id, timestamp, event_type, volume_ml,
       pump_duration, pump_attempts, water_status, system_status, received_at
FROM water_events
WHERE event_type IN ('AUTO_PUMP', 'MANUAL_NORMAL', 'MANUAL_EXTENDED', 'AUTO_CYCLE_COMPLETE')
    {device_filter}
ORDER BY received_at DESC`,
		},
		"statistics_resets": {
			Name:        "Statistics Resets",
			Description: "Recent statistics reset events",
			SQL: `SELECT id, device_id, timestamp, received_at, client_ip
FROM water_events
WHERE event_type = 'STATISTICS_RESET' {device_filter}
ORDER BY received_at DESC
LIMIT 20`,
		},
	},
}

// deviceColumns is the column projection used by general queries when they
// are filtered to a device type
var deviceColumns = map[string][]string{
	DefaultDeviceType: {
		"id", "device_id", "timestamp", "event_type", "volume_ml",
		"water_status", "system_status", "time_gap_1", "time_gap_2",
		"water_trigger_time", "pump_duration", "pump_attempts",
		"gap1_fail_sum", "gap2_fail_sum", "water_fail_sum",
		"daily_volume_ml", "received_at",
	},
}

// Build returns the SQL and arguments for a catalog query. An empty
// deviceType runs a general query across all devices; device-specific
// queries require their device type. Placeholders are "?".
func Build(queryType, deviceType string) (string, []interface{}, error) {
	if def, ok := baseQueries[queryType]; ok {
		columns := "*"
		if cols, ok := deviceColumns[deviceType]; ok {
			columns = strings.Join(cols, ", ")
		}
		sqlText := strings.Replace(def.SQL, "{columns}", columns, 1)
		return withDeviceFilter(sqlText, deviceType)
	}

	if queries, ok := deviceQueries[deviceType]; ok {
		if def, ok := queries[queryType]; ok {
			return withDeviceFilter(def.SQL, deviceType)
		}
	}

	return "", nil, ErrUnknownQuery
}

// BuildQuick resolves a query for the quick-query endpoints, which expose the
// general catalog plus the water system queries without a device filter.
func BuildQuick(queryType string) (string, []interface{}, error) {
	if _, ok := baseQueries[queryType]; ok {
		return Build(queryType, "")
	}
	if def, ok := deviceQueries[DefaultDeviceType][queryType]; ok {
		return withDeviceFilter(def.SQL, "")
	}
	return "", nil, ErrUnknownQuery
}

func withDeviceFilter(sqlText, deviceType string) (string, []interface{}, error) {
	if deviceType == "" {
		return strings.Replace(sqlText, "{device_filter}", "", 1), nil, nil
	}
	sqlText = strings.Replace(sqlText, "{device_filter}", "AND device_type = ?", 1)
	return sqlText, []interface{}{deviceType}, nil
}

// Available lists the catalog queries offered for deviceType, general
// queries first, each group sorted by ID
func Available(deviceType string) []Info {
	infos := collect(baseQueries, CategoryGeneral)
	if queries, ok := deviceQueries[deviceType]; ok {
		infos = append(infos, collect(queries, deviceType)...)
	}
	return infos
}

// QuickQueries lists the queries accepted by BuildQuick
func QuickQueries() []Info {
	return Available(DefaultDeviceType)
}

func collect(defs map[string]Definition, category string) []Info {
	ids := make([]string, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		def := defs[id]
		infos = append(infos, Info{
			ID:          id,
			Name:        def.Name,
			Description: def.Description,
			Category:    category,
		})
	}
	return infos
}
