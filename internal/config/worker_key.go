package config

type WorkerKeyStruct struct {
	PersistFlagsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistFlagsQueue: "persist_game_session_flags_queue",
}
