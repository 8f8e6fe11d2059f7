package session

// Level is the severity attached to a status line.
type Level string

const (
	LevelIdle    Level = "idle"
	LevelOK      Level = "ok"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Controls reports which user actions are currently meaningful.
type Controls struct {
	Connect    bool `json:"connect"`
	Disconnect bool `json:"disconnect"`
	StartShare bool `json:"startShare"`
	StopShare  bool `json:"stopShare"`
	CopyID     bool `json:"copyId"`
}

// Snapshot is the read-only projection of session state handed to the UI.
type Snapshot struct {
	PeerID         string    `json:"peerId"`
	Ready          bool      `json:"ready"`
	RemotePeer     string    `json:"remotePeer,omitempty"`
	Channel        string    `json:"channel"`
	Status         string    `json:"status"`
	Level          Level     `json:"level"`
	Fault          ErrorKind `json:"fault"`
	ConnectionInfo string    `json:"connectionInfo"`
	// Live is the local share indicator; Receiving covers the inbound side.
	Live           bool      `json:"live"`
	Receiving      bool      `json:"receiving"`
	FriendSharing  bool      `json:"friendSharing"`
	Controls       Controls  `json:"controls"`
}

// NoticeKind distinguishes transient toasts from blocking alerts.
type NoticeKind string

const (
	NoticeToast NoticeKind = "toast"
	NoticeAlert NoticeKind = "alert"
)

// Notice is a user-facing message outside the status line.
type Notice struct {
	Kind NoticeKind `json:"kind"`
	Text string     `json:"text"`
}

// Presenter receives everything the orchestrator produces for the UI and the
// host shell. Calls are made from the orchestrator's event loop and must not
// block.
type Presenter interface {
	Render(Snapshot)
	Notify(Notice)
	RequestMinimize()
	RequestRestore()
}
