package bridge

// Events handled by the coordinator loop, besides the device.Event values
// posted by the radio.

type setupDone struct {
	slot Slot
	gen  uint64
	link *link
	err  error
}

type linkLost struct {
	slot Slot
	gen  uint64
}

type notification struct {
	slot Slot
	gen  uint64
	data []byte
}

type scanRestartDue struct {
	seq uint64
}

type disconnectDone struct {
	slot Slot
	err  error
}

type (
	startScanRequest struct{}
	stopScanRequest  struct{}
	statusRequest    struct{}
)

type disconnectRequest struct {
	slot Slot
}

type writeRequest struct {
	slot Slot
	on   bool
}

type joinRequest struct {
	deliver func(Status)
}

type shutdownRequest struct {
	done chan struct{}
}
