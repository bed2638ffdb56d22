package web

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sweeney/heater-control/internal/plc"
)

// maxReadSize bounds ad-hoc reads; one S7 PDU carries a little over 200
// bytes.
const maxReadSize = 200

func (s *Server) handlePLCHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.bus.Config()
	resp := plcHealthResponse{Address: cfg.Address, Rack: cfg.Rack, Slot: cfg.Slot, Message: "Connected to PLC"}
	if _, err := s.bus.Status(); err != nil {
		resp.Message = "Error connecting to PLC: " + err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePLCMode(w http.ResponseWriter, r *http.Request) {
	st, err := s.bus.Status()
	if err != nil {
		code, msg := faultStatus(err)
		writeJSON(w, code, plcModeResponse{StatusCode: -1, Message: "Failed to get PLC status: " + msg})
		return
	}
	writeJSON(w, http.StatusOK, plcModeResponse{StatusCode: int(st), Message: st.String()})
}

func (s *Server) handlePLCStop(w http.ResponseWriter, r *http.Request) {
	if err := s.bus.Stop(); err != nil {
		code, msg := faultStatus(err)
		writeJSON(w, code, messageResponse{Message: "Couldn't stop PLC. Reason: " + msg})
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "PLC Stopped"})
}

// handlePLCStart starts the CPU unless it is already running.
func (s *Server) handlePLCStart(cold bool) http.HandlerFunc {
	start, mode := s.bus.HotStart, "HOT"
	if cold {
		start, mode = s.bus.ColdStart, "Cold"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.bus.Status()
		if err != nil {
			code, msg := faultStatus(err)
			writeJSON(w, code, messageResponse{Message: "Failed to get PLC status: " + msg})
			return
		}
		if st == plc.CPURunning {
			writeJSON(w, http.StatusOK, messageResponse{Message: "PLC is already running"})
			return
		}
		if err := start(); err != nil {
			code, msg := faultStatus(err)
			writeJSON(w, code, messageResponse{Message: "Couldn't start PLC. Reason: " + msg})
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: "PLC Started - Mode: " + mode})
	}
}

func (s *Server) handleConfigureConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "invalid body: " + err.Error()})
		return
	}
	if req.Address == "" {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: `missing "address"`})
		return
	}
	cfg := s.bus.Config()
	cfg.Address, cfg.Rack, cfg.Slot = req.Address, req.Rack, req.Slot
	if err := s.bus.Reconnect(cfg); err != nil {
		code, _ := faultStatus(err)
		writeJSON(w, code, messageResponse{Message: "Config updated but can't connect to PLC. Reason: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Config updated and connected to PLC"})
}

func (s *Server) handleDBBit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var resp dbBitResponse
	var err error
	if resp.DBNumber, err = intParam(q, "db_number", 1, math.MaxUint16); err == nil {
		if resp.Start, err = intParam(q, "start", 0, math.MaxUint16); err == nil {
			resp.Bit, err = intParam(q, "bit", 0, 7)
		}
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}

	on, err := s.bus.ReadBit(plc.AreaDB, resp.DBNumber, resp.Start, resp.Bit)
	if err != nil {
		code, msg := faultStatus(err)
		resp.Message = msg
		writeJSON(w, code, resp)
		return
	}
	resp.Value = bitValue(on)
	resp.Message = "Read successful"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDBByte(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var resp dbByteResponse
	var err error
	if resp.DBNumber, err = intParam(q, "db_number", 1, math.MaxUint16); err == nil {
		if resp.Start, err = intParam(q, "start", 0, math.MaxUint16); err == nil {
			resp.Size, err = intParam(q, "size", 1, maxReadSize)
		}
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}
	dataType := q.Get("data_type")
	if dataType != "integer" && dataType != "floating_point" {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: `data_type must be "integer" or "floating_point"`})
		return
	}

	data, err := s.bus.ReadBlock(resp.DBNumber, resp.Start, resp.Size)
	if err != nil {
		code, msg := faultStatus(err)
		resp.Message = msg
		writeJSON(w, code, resp)
		return
	}
	resp.Bits = bitString(data)
	resp.Value = decodeValue(data, dataType)
	resp.Message = "Read successful"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDigitalInput(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var resp digitalInputResponse
	var err error
	if resp.ByteIndex, err = intParam(q, "byte_index", 0, math.MaxUint16); err == nil {
		resp.BitIndex, err = intParam(q, "bit_index", 0, 7)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}

	on, err := s.bus.ReadBit(plc.AreaInput, 0, resp.ByteIndex, resp.BitIndex)
	if err != nil {
		code, msg := faultStatus(err)
		resp.Message = msg
		writeJSON(w, code, resp)
		return
	}
	resp.Value = bitValue(on)
	resp.Message = "Read successful"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalogInput(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var resp analogInputResponse
	var err error
	if resp.ByteIndex, err = intParam(q, "byte_index", 0, math.MaxUint16); err == nil {
		resp.Size, err = intParam(q, "size", 1, maxReadSize)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}

	data, err := s.bus.ReadBytes(plc.AreaInput, resp.ByteIndex, resp.Size)
	if err != nil {
		code, msg := faultStatus(err)
		resp.Message = msg
		writeJSON(w, code, resp)
		return
	}
	if v, ok := decodeUnsigned(data); ok {
		resp.Value = &v
	}
	resp.Message = "Read successful"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDigitalOutput(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var resp digitalOutputResponse
	var err error
	if resp.Start, err = intParam(q, "start", 0, math.MaxUint16); err == nil {
		if resp.BitIndex, err = intParam(q, "bit_index", 0, 7); err == nil {
			resp.Value, err = strconv.ParseBool(q.Get("value"))
			if err != nil {
				err = fmt.Errorf("parameter %q: want true or false", "value")
			}
		}
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}

	if err := s.bus.SetBit(plc.AreaOutput, resp.Start, resp.BitIndex, resp.Value); err != nil {
		code, msg := faultStatus(err)
		resp.Message = msg
		writeJSON(w, code, resp)
		return
	}
	resp.Message = "Output successfully set."
	writeJSON(w, http.StatusOK, resp)
}

func intParam(q url.Values, name string, lo, hi int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing parameter %q", name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: not an integer", name)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("parameter %q: %d out of range %d..%d", name, v, lo, hi)
	}
	return v, nil
}

// bitString lists the bits of data byte by byte, least significant bit
// first within each byte.
func bitString(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data) * 8)
	for _, b := range data {
		for bit := 0; bit < 8; bit++ {
			if b>>bit&1 == 1 {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
	}
	return sb.String()
}

// decodeValue interprets big-endian PLC data. Sizes other than 1, 2 or 4
// bytes (4 only for floating_point) and non-finite floats have no value.
func decodeValue(data []byte, dataType string) *float64 {
	var v float64
	switch dataType {
	case "integer":
		u, ok := decodeUnsigned(data)
		if !ok {
			return nil
		}
		v = float64(u)
	case "floating_point":
		if len(data) != 4 {
			return nil
		}
		f := math.Float32frombits(binary.BigEndian.Uint32(data))
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil
		}
		v = float64(f)
	default:
		return nil
	}
	return &v
}

func decodeUnsigned(data []byte) (uint32, bool) {
	switch len(data) {
	case 1:
		return uint32(data[0]), true
	case 2:
		return uint32(binary.BigEndian.Uint16(data)), true
	case 4:
		return binary.BigEndian.Uint32(data), true
	}
	return 0, false
}
