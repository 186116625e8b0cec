package domain

type TaskStatus string

const (
	Pending   TaskStatus = "pending"
	Running   TaskStatus = "running"
	Completed TaskStatus = "completed"
	Failed    TaskStatus = "failed"
	Skipped   TaskStatus = "skipped"
)

type PasswordMode string

const (
	PasswordRandom PasswordMode = "random"
	PasswordFixed  PasswordMode = "fixed"
	PasswordNone   PasswordMode = "none"
)

// QueueItem is the minimal surface a task exposes to its queue. Both task
// kinds satisfy it, which keeps the queue generic over the kind.
type QueueItem[T any] interface {
	GetID() int64
	GetStatus() TaskStatus
	SetStatus(TaskStatus)
	// Clone returns a deep copy that is safe to read without the queue lock.
	Clone() T
}

// TransferTask imports an externally shared resource into the account's own
// storage. ID stays zero until the task is first persisted.
type TransferTask struct {
	ID            int64             `json:"id"`
	Title         string            `json:"title"`
	ShareLink     string            `json:"share_link"`
	SharePassword string            `json:"share_password"`
	TargetPath    string            `json:"target_path"`
	Filename      string            `json:"filename"`
	Status        TaskStatus        `json:"status"`
	ErrorMessage  string            `json:"error_message"`
	AutoShare     bool              `json:"auto_share"`
	CreatedAt     string            `json:"created_at"`
	SessionTag    string            `json:"session_tag"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (t *TransferTask) GetID() int64           { return t.ID }
func (t *TransferTask) GetStatus() TaskStatus  { return t.Status }
func (t *TransferTask) SetStatus(s TaskStatus) { t.Status = s }

func (t *TransferTask) Clone() *TransferTask {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// ShareTask re-shares a stored resource with a generated or fixed access code.
type ShareTask struct {
	ID            int64             `json:"id"`
	Title         string            `json:"title"`
	FsID          int64             `json:"fs_id"`
	FilePath      string            `json:"file_path"`
	FileName      string            `json:"file_name"`
	ExpiryDays    int               `json:"expiry_days"`
	PasswordMode  PasswordMode      `json:"password_mode"`
	SharePassword string            `json:"share_password"`
	ShareLink     string            `json:"share_link"`
	Status        TaskStatus        `json:"status"`
	ErrorMessage  string            `json:"error_message"`
	CreatedAt     string            `json:"created_at"`
	SessionTag    string            `json:"session_tag"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (t *ShareTask) GetID() int64           { return t.ID }
func (t *ShareTask) GetStatus() TaskStatus  { return t.Status }
func (t *ShareTask) SetStatus(s TaskStatus) { t.Status = s }

func (t *ShareTask) Clone() *ShareTask {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// MetaOriginTransferID marks a share task that was chained off a completed
// transfer; the value is the originating transfer task id.
const MetaOriginTransferID = "auto_created_from_transfer"

// TransferTaskChanges carries a partial update; nil fields are left untouched.
type TransferTaskChanges struct {
	Status       *TaskStatus
	ErrorMessage *string
	TargetPath   *string
	Filename     *string
	AutoShare    *bool
}

type ShareTaskChanges struct {
	Status        *TaskStatus
	ErrorMessage  *string
	ShareLink     *string
	SharePassword *string
}

// QueueCounts is the read-only projection the status snapshot reports.
type QueueCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type QueueStatus struct {
	QueueCounts
	IsRunning bool `json:"is_running"`
	IsPaused  bool `json:"is_paused"`
}
