package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/fpang/untrunc-batch/internal/batch"
)

// Report is the document uploaded next to the repaired files.
type Report struct {
	Job     *batch.Job      `json:"job"`
	Status  batch.JobStatus `json:"status"`
	Message string          `json:"message"`
	Totals  batch.Totals    `json:"totals"`
	Result  *batch.Result   `json:"result"`
}

// ReportKey is where the report of jobID is stored under outputPrefix.
func ReportKey(outputPrefix, jobID string) string {
	key := "_untrunc/" + jobID + ".json.zst"
	if p := strings.TrimSuffix(outputPrefix, "/"); p != "" {
		key = p + "/" + key
	}
	return key
}

// EncodeReport returns the zstd-compressed JSON report.
func EncodeReport(job *batch.Job, result *batch.Result) ([]byte, error) {
	data, err := json.Marshal(Report{
		Job:     job,
		Status:  result.Status(),
		Message: result.Message(),
		Totals:  result.Totals(),
		Result:  result,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(12)))
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, fmt.Errorf("compress report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("compress report: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeReport reverses EncodeReport.
func DecodeReport(data []byte) (*Report, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress report: %w", err)
	}
	var rep Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &rep, nil
}

func (r *Runner) writeReport(ctx context.Context, job *batch.Job, result *batch.Result) (string, error) {
	data, err := EncodeReport(job, result)
	if err != nil {
		return "", err
	}
	key := ReportKey(job.OutputPrefix, job.ID)
	if err := r.store.Put(ctx, job.OutputBucket, key, bytes.NewReader(data), int64(len(data)), "application/zstd"); err != nil {
		return "", err
	}
	return key, nil
}
