package domain

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	ErrFileNotFound             = errors.New("file not found")
	ErrFileAccessDenied         = errors.New("file access denied")
	ErrUnsupportedFormat        = errors.New("unsupported format")
	ErrProbeFailed              = errors.New("probe failed")
	ErrSubtitleConversionFailed = errors.New("subtitle conversion failed")
	ErrServerStartFailed        = errors.New("server start failed")
	ErrTranscodeProcess         = errors.New("transcode process error")
)

type ErrorKind string

const (
	KindFileNotFound             ErrorKind = "file_not_found"
	KindFileAccessDenied         ErrorKind = "file_access_denied"
	KindUnsupportedFormat        ErrorKind = "unsupported_format"
	KindProbeFailed              ErrorKind = "probe_failed"
	KindSubtitleConversionFailed ErrorKind = "subtitle_conversion_failed"
	KindServerStartFailed        ErrorKind = "server_start_failed"
	KindTranscodeProcess         ErrorKind = "transcode_process_error"
	KindUnknown                  ErrorKind = "unknown"
)

// UnsupportedCodecError names the codec ffmpeg reported but cannot decode.
type UnsupportedCodecError struct {
	VideoCodec string
	AudioCodec string
}

func (e *UnsupportedCodecError) Error() string {
	switch {
	case e.VideoCodec != "":
		return fmt.Sprintf("%s: video codec %s", ErrUnsupportedFormat, e.VideoCodec)
	case e.AudioCodec != "":
		return fmt.Sprintf("%s: audio codec %s", ErrUnsupportedFormat, e.AudioCodec)
	default:
		return ErrUnsupportedFormat.Error()
	}
}

func (e *UnsupportedCodecError) Unwrap() error {
	return ErrUnsupportedFormat
}

// ClassifyFileError maps an OS error for path onto the error kinds. Anything
// other than not-exist or permission is wrapped with fallback.
func ClassifyFileError(path string, err error, fallback error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrFileAccessDenied, path)
	default:
		return fmt.Errorf("%w: %s: %v", fallback, path, err)
	}
}

// KindOf classifies err. Subtitle, server and transcode kinds are checked
// first because their errors may also carry a file kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSubtitleConversionFailed):
		return KindSubtitleConversionFailed
	case errors.Is(err, ErrServerStartFailed):
		return KindServerStartFailed
	case errors.Is(err, ErrTranscodeProcess):
		return KindTranscodeProcess
	case errors.Is(err, ErrFileNotFound):
		return KindFileNotFound
	case errors.Is(err, ErrFileAccessDenied):
		return KindFileAccessDenied
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, ErrProbeFailed):
		return KindProbeFailed
	default:
		return KindUnknown
	}
}

func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindSubtitleConversionFailed, KindServerStartFailed, KindProbeFailed, KindTranscodeProcess,
		KindFileAccessDenied:
		return true
	default:
		return false
	}
}

func UserMessage(err error) string {
	switch KindOf(err) {
	case KindFileNotFound:
		return "The video file could not be found. It may have been moved or deleted."
	case KindFileAccessDenied:
		return "Cannot access the video file. Please check file permissions."
	case KindUnsupportedFormat:
		var codecErr *UnsupportedCodecError
		if errors.As(err, &codecErr) {
			if codecErr.VideoCodec != "" {
				return fmt.Sprintf("The video codec (%s) is not supported. Supported codecs: H.264, VP8, Theora.", codecErr.VideoCodec)
			}
			if codecErr.AudioCodec != "" {
				return fmt.Sprintf("The audio codec (%s) is not supported. Supported codecs: AAC, Vorbis, Opus.", codecErr.AudioCodec)
			}
		}
		return "This video format is not supported."
	case KindProbeFailed:
		return "Failed to process the video file. The file may be corrupted."
	case KindSubtitleConversionFailed:
		return "Failed to load subtitles. The subtitle file may be corrupted or in an unsupported format."
	case KindServerStartFailed:
		return "Failed to start the video streaming server. Please try again."
	case KindTranscodeProcess:
		return "Video transcoding failed. Please try again."
	default:
		return "An unexpected error occurred."
	}
}

// ErrorReport is the UI-facing view of a failed operation.
type ErrorReport struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Hint        string    `json:"hint"`
	Recoverable bool      `json:"recoverable"`
	Path        string    `json:"path,omitempty"`
}

func NewErrorReport(err error, path string) ErrorReport {
	recoverable := IsRecoverable(err)
	hint := "Try a different file."
	if recoverable {
		hint = "Please try again."
	}
	return ErrorReport{
		Kind:        KindOf(err),
		Message:     UserMessage(err),
		Hint:        hint,
		Recoverable: recoverable,
		Path:        path,
	}
}

// UserFacing is the single line shown to the user: the message followed by
// the recoverability hint.
func (r ErrorReport) UserFacing() string {
	return r.Message + " " + r.Hint
}
