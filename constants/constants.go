package constants

import "fmt"

type FSType int

const (
	FS_INT64 FSType = iota + 1 // int64
	FS_DOUBLE                  // float64
	FS_STRING
	FS_BOOLEAN
	FS_TIMESTAMP
)

func (t FSType) String() string {
	switch t {
	case FS_INT64:
		return "int64"
	case FS_DOUBLE:
		return "double"
	case FS_STRING:
		return "string"
	case FS_BOOLEAN:
		return "bool"
	case FS_TIMESTAMP:
		return "timestamp"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseFSType maps the type names used in registry definition files.
func ParseFSType(s string) (FSType, bool) {
	switch s {
	case "int64", "int":
		return FS_INT64, true
	case "double", "float64", "float":
		return FS_DOUBLE, true
	case "string":
		return FS_STRING, true
	case "bool", "boolean":
		return FS_BOOLEAN, true
	case "timestamp":
		return FS_TIMESTAMP, true
	default:
		return 0, false
	}
}

type PushMode int

const (
	Push_Mode_Online PushMode = iota + 1
	Push_Mode_Offline
	Push_Mode_Online_And_Offline
)

func (m PushMode) String() string {
	switch m {
	case Push_Mode_Online:
		return "online"
	case Push_Mode_Offline:
		return "offline"
	case Push_Mode_Online_And_Offline:
		return "online_and_offline"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// WritesOnline reports whether the mode includes the online store.
func (m PushMode) WritesOnline() bool {
	return m == Push_Mode_Online || m == Push_Mode_Online_And_Offline
}

// WritesOffline reports whether the mode includes the offline push log.
func (m PushMode) WritesOffline() bool {
	return m == Push_Mode_Offline || m == Push_Mode_Online_And_Offline
}

func (m PushMode) Valid() bool {
	switch m {
	case Push_Mode_Online, Push_Mode_Offline, Push_Mode_Online_And_Offline:
		return true
	}
	return false
}

const (
	Datasource_Type_Memory  = "memory"
	Datasource_Type_SQL     = "sql"
	Datasource_Type_File    = "file"
	Datasource_Type_PushLog = "pushlog"
)

type RunStatus string

const (
	Run_Status_Succeeded RunStatus = "succeeded"
	Run_Status_Failed    RunStatus = "failed"
	Run_Status_Skipped   RunStatus = "skipped"
)

// EventTimestampField is the column that carries the event time for rows
// flowing through push sources that do not name one explicitly.
const EventTimestampField = "event_timestamp"
