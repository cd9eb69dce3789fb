// Copyright (C) 2022 K2 Cyber Security Inc.

package discovery

import "strconv"

// HRESULT is a failed COM call.
type HRESULT uint32

const (
	E_FAIL                    HRESULT = 0x80004005
	E_INVALIDARG              HRESULT = 0x80070057
	E_NOINTERFACE             HRESULT = 0x80004002
	DXGI_ERROR_NOT_FOUND      HRESULT = 0x887A0002
	DXGI_ERROR_UNSUPPORTED    HRESULT = 0x887A0004
	DXGI_ERROR_INVALID_CALL   HRESULT = 0x887A0001
	DXGI_ERROR_SDK_COMPONENT  HRESULT = 0x887A002D
	DXGI_ERROR_DEVICE_REMOVED HRESULT = 0x887A0005
)

func (e HRESULT) Error() string {
	switch e {
	case E_FAIL:
		return "E_FAIL"
	case E_INVALIDARG:
		return "E_INVALIDARG"
	case E_NOINTERFACE:
		return "E_NOINTERFACE"
	case DXGI_ERROR_NOT_FOUND:
		return "DXGI_ERROR_NOT_FOUND"
	case DXGI_ERROR_UNSUPPORTED:
		return "DXGI_ERROR_UNSUPPORTED"
	case DXGI_ERROR_INVALID_CALL:
		return "DXGI_ERROR_INVALID_CALL"
	case DXGI_ERROR_SDK_COMPONENT:
		return "DXGI_ERROR_SDK_COMPONENT_MISSING"
	case DXGI_ERROR_DEVICE_REMOVED:
		return "DXGI_ERROR_DEVICE_REMOVED"
	}
	return "0x" + strconv.FormatUint(uint64(e), 16)
}

func failed(hr uintptr) bool {
	return int32(hr) < 0
}
