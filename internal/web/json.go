package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/sweeney/heater-control/internal/plc"
)

const msgConnectionRequired = "PLC connection required. Please connect to the PLC first."

type messageResponse struct {
	Message string `json:"message"`
}

type targetRequest struct {
	Target *float64 `json:"target_temperature"`
}

type plcHealthResponse struct {
	Address string `json:"address"`
	Rack    int    `json:"rack"`
	Slot    int    `json:"slot"`
	Message string `json:"message"`
}

type plcModeResponse struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

type connectionRequest struct {
	Address string `json:"address"`
	Rack    int    `json:"rack"`
	Slot    int    `json:"slot"`
}

type dbBitResponse struct {
	DBNumber int    `json:"db_number"`
	Start    int    `json:"start"`
	Bit      int    `json:"bit"`
	Value    *int   `json:"value"`
	Message  string `json:"message"`
}

type dbByteResponse struct {
	DBNumber int      `json:"db_number"`
	Start    int      `json:"start"`
	Size     int      `json:"size"`
	Value    *float64 `json:"value"`
	Bits     string   `json:"bits"`
	Message  string   `json:"message"`
}

type digitalInputResponse struct {
	ByteIndex int    `json:"byte_index"`
	BitIndex  int    `json:"bit_index"`
	Value     *int   `json:"value"`
	Message   string `json:"message"`
}

type analogInputResponse struct {
	ByteIndex int     `json:"byte_index"`
	Size      int     `json:"size"`
	Value     *uint32 `json:"value"`
	Message   string  `json:"message"`
}

type digitalOutputResponse struct {
	Start    int    `json:"start"`
	BitIndex int    `json:"bit_index"`
	Value    bool   `json:"value"`
	Message  string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: encode response: %v", err)
	}
}

// faultStatus maps a bus error to an HTTP status and a message. Connection
// faults get a fixed message so clients can tell them apart.
func faultStatus(err error) (int, string) {
	switch {
	case errors.Is(err, plc.ErrUnsupported):
		return http.StatusNotImplemented, err.Error()
	case plc.IsConnectionFault(err):
		return http.StatusServiceUnavailable, msgConnectionRequired
	}
	return http.StatusServiceUnavailable, err.Error()
}

func bitValue(on bool) *int {
	v := 0
	if on {
		v = 1
	}
	return &v
}
