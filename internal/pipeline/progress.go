package pipeline

// ProgressEvent reports that an image entered a stage.
type ProgressEvent struct {
	BatchID  string `json:"batch_id"`
	ImageID  int    `json:"image_id"`
	Filename string `json:"filename"`
	Stage    Stage  `json:"stage"`
	Percent  int    `json:"percent"`
}

// ProgressFunc receives progress events synchronously from the processing
// goroutine. It must not block for long.
type ProgressFunc func(ProgressEvent)
