package pluginwasm

import "fmt"

// Status is the status code exchanged with the host application.
// Zero is success; negative values are failures.
type Status int32

const (
	StatusErrorReferReason   Status = -3 // host should fetch the failure reason
	StatusErrorUnknownOption Status = -2
	StatusErrorNullObject    Status = -1
	StatusSuccess            Status = 0
)

func (s Status) String() string {
	switch s {
	case StatusErrorReferReason:
		return "ERROR_REFER_REASON"
	case StatusErrorUnknownOption:
		return "ERROR_UNKNOWN_OPTION"
	case StatusErrorNullObject:
		return "ERROR_NULL_OBJECT"
	case StatusSuccess:
		return "SUCCESS"
	}
	return fmt.Sprintf("STATUS(%d)", int32(s))
}

// Language selects the language of plugin-provided strings.
type Language uint32

const (
	LanguageJapanese Language = 0
	LanguageEnglish  Language = 1
)

func (l Language) String() string {
	switch l {
	case LanguageJapanese:
		return "ja"
	case LanguageEnglish:
		return "en"
	}
	return fmt.Sprintf("language(%d)", uint32(l))
}
