package model

// TaskKind discriminates the four AppTask variants.
type TaskKind int

const (
	TaskKindCreateOrUpdate TaskKind = iota
	TaskKindDelete
	TaskKindBackUp
	TaskKindRestore
)

func (k TaskKind) String() string {
	switch k {
	case TaskKindCreateOrUpdate:
		return "CreateOrUpdate"
	case TaskKindDelete:
		return "Delete"
	case TaskKindBackUp:
		return "BackUp"
	case TaskKindRestore:
		return "Restore"
	default:
		return "Unknown"
	}
}

// CreateOrUpdatePayload carries the desired state for a CreateOrUpdate task.
type CreateOrUpdatePayload struct {
	ReplicateFrom         *AppName
	ServiceConfigs        []ServiceConfig
	Owners                []string
	UserDefinedParameters interface{}
}

// BackUpPayload carries an opaque backup request body.
type BackUpPayload struct {
	Payload interface{}
}

// RestorePayload carries an opaque restore request body.
type RestorePayload struct {
	Payload interface{}
}

// AppTask is the tagged union submitted to and stored by the task queue.
// Exactly one of the payload pointer fields is non-nil, selected by Kind.
type AppTask struct {
	StatusID string
	AppName  AppName
	Kind     TaskKind

	CreateOrUpdate *CreateOrUpdatePayload
	Delete         *struct{}
	BackUp         *BackUpPayload
	Restore        *RestorePayload
}

// NewCreateOrUpdateTask constructs a CreateOrUpdate task.
func NewCreateOrUpdateTask(statusID string, app AppName, payload CreateOrUpdatePayload) AppTask {
	return AppTask{StatusID: statusID, AppName: app, Kind: TaskKindCreateOrUpdate, CreateOrUpdate: &payload}
}

// NewDeleteTask constructs a Delete task.
func NewDeleteTask(statusID string, app AppName) AppTask {
	return AppTask{StatusID: statusID, AppName: app, Kind: TaskKindDelete, Delete: &struct{}{}}
}

// NewBackUpTask constructs a BackUp task.
func NewBackUpTask(statusID string, app AppName, payload interface{}) AppTask {
	return AppTask{StatusID: statusID, AppName: app, Kind: TaskKindBackUp, BackUp: &BackUpPayload{Payload: payload}}
}

// NewRestoreTask constructs a Restore task.
func NewRestoreTask(statusID string, app AppName, payload interface{}) AppTask {
	return AppTask{StatusID: statusID, AppName: app, Kind: TaskKindRestore, Restore: &RestorePayload{Payload: payload}}
}

// MergeWith combines t (the task already queued, "left") with next (a newly
// arrived task for the same AppName, "right"), following the task queue's
// merge-before-execution rule:
//
//   - Delete composed with anything yields Delete.
//   - CreateOrUpdate composed with CreateOrUpdate merges service configs by
//     name (right overrides left on conflicts), normalizes the owner union,
//     and deep-merges user-defined parameters.
//   - BackUp/Restore never merge with another task; next simply supersedes
//     t by being scheduled as its own entry (callers must not call
//     MergeWith for these kinds; they are not merged by the queue).
//
// next's StatusID is kept, since it is the task the caller is waiting on.
func (t AppTask) MergeWith(next AppTask) AppTask {
	if next.Kind == TaskKindDelete || t.Kind == TaskKindDelete {
		return AppTask{StatusID: next.StatusID, AppName: t.AppName, Kind: TaskKindDelete, Delete: &struct{}{}}
	}

	if t.Kind == TaskKindCreateOrUpdate && next.Kind == TaskKindCreateOrUpdate {
		merged := mergeCreateOrUpdate(*t.CreateOrUpdate, *next.CreateOrUpdate)
		return NewCreateOrUpdateTask(next.StatusID, t.AppName, merged)
	}

	// BackUp/Restore: not mergeable, next simply replaces t as the pending
	// task (caller is expected to keep these distinct queue entries rather
	// than invoking MergeWith, but if it happens the newer wins outright).
	return next
}

func mergeCreateOrUpdate(left, right CreateOrUpdatePayload) CreateOrUpdatePayload {
	replicateFrom := left.ReplicateFrom
	if right.ReplicateFrom != nil {
		replicateFrom = right.ReplicateFrom
	}

	configs := mergeServiceConfigsByName(left.ServiceConfigs, right.ServiceConfigs)
	owners := NormalizeOwners(append(append([]string{}, left.Owners...), right.Owners...))
	params := deepMergeParameters(left.UserDefinedParameters, right.UserDefinedParameters)

	return CreateOrUpdatePayload{
		ReplicateFrom:         replicateFrom,
		ServiceConfigs:        configs,
		Owners:                owners,
		UserDefinedParameters: params,
	}
}

// mergeServiceConfigsByName merges two config lists by ServiceName, with
// right overriding left on conflicts (whole-config replacement, not a field
// merge: the later request is assumed to be the caller's full intent for
// that service).
func mergeServiceConfigsByName(left, right []ServiceConfig) []ServiceConfig {
	order := make([]string, 0, len(left)+len(right))
	byName := make(map[string]ServiceConfig, len(left)+len(right))

	for _, c := range left {
		if _, exists := byName[c.ServiceName]; !exists {
			order = append(order, c.ServiceName)
		}
		byName[c.ServiceName] = c
	}
	for _, c := range right {
		if _, exists := byName[c.ServiceName]; !exists {
			order = append(order, c.ServiceName)
		}
		byName[c.ServiceName] = c
	}

	out := make([]ServiceConfig, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

// deepMergeParameters merges two opaque user-defined-parameter values:
// objects merge key-by-key recursively, arrays concatenate, and scalars (or
// a type mismatch) are overwritten by right.
func deepMergeParameters(left, right interface{}) interface{} {
	if right == nil {
		return left
	}
	if left == nil {
		return right
	}

	leftMap, leftIsMap := left.(map[string]interface{})
	rightMap, rightIsMap := right.(map[string]interface{})
	if leftIsMap && rightIsMap {
		out := make(map[string]interface{}, len(leftMap)+len(rightMap))
		for k, v := range leftMap {
			out[k] = v
		}
		for k, v := range rightMap {
			if existing, ok := out[k]; ok {
				out[k] = deepMergeParameters(existing, v)
			} else {
				out[k] = v
			}
		}
		return out
	}

	leftSlice, leftIsSlice := left.([]interface{})
	rightSlice, rightIsSlice := right.([]interface{})
	if leftIsSlice && rightIsSlice {
		out := make([]interface{}, 0, len(leftSlice)+len(rightSlice))
		out = append(out, leftSlice...)
		out = append(out, rightSlice...)
		return out
	}

	return right
}
