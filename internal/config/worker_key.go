package config

type WorkerKeyStruct struct {
	SyncEventsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	SyncEventsQueue: "sync_events_queue",
}
