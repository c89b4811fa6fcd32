package config

type WorkerKeyStruct struct {
	ArchiveViolationsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	ArchiveViolationsQueue: "archive_violations_queue",
}
