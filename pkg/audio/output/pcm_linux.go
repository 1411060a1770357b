//go:build linux && cgo

// ABOUTME: cgo shim over the ALSA PCM API
// ABOUTME: Implements pcmConn and device enumeration on real hardware
package output

/*
#cgo pkg-config: alsa
#include <alsa/asoundlib.h>
#include <errno.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/chime-player/chime-go/pkg/audio"
)

// alsaConn owns one snd_pcm_t handle and its hardware parameter container.
// Close releases both on every exit path, including failed negotiation.
type alsaConn struct {
	handle *C.snd_pcm_t
	hw     *C.snd_pcm_hw_params_t
}

// openPCM opens the named playback device in non-blocking mode so a full
// buffer yields a short write instead of blocking the audio worker.
func openPCM(device string) (pcmConn, error) {
	cdev := C.CString(device)
	defer C.free(unsafe.Pointer(cdev))

	var handle *C.snd_pcm_t
	if rc := C.snd_pcm_open(&handle, cdev, C.SND_PCM_STREAM_PLAYBACK, C.SND_PCM_NONBLOCK); rc < 0 {
		return nil, alsaError("failed to open device", rc)
	}

	var hw *C.snd_pcm_hw_params_t
	if rc := C.snd_pcm_hw_params_malloc(&hw); rc < 0 {
		C.snd_pcm_close(handle)
		return nil, alsaError("failed to allocate hardware parameters", rc)
	}
	if rc := C.snd_pcm_hw_params_any(handle, hw); rc < 0 {
		C.snd_pcm_hw_params_free(hw)
		C.snd_pcm_close(handle)
		return nil, alsaError("failed to initialise hardware parameters", rc)
	}

	return &alsaConn{handle: handle, hw: hw}, nil
}

func alsaError(op string, rc C.int) error {
	return fmt.Errorf("alsa: %s: %s", op, C.GoString(C.snd_strerror(rc)))
}

// rcError maps driver return codes to the fault classes the recovery
// machine distinguishes.
func rcError(op string, rc C.int) error {
	switch rc {
	case -C.EPIPE:
		return errPCMPipe
	case -C.EINTR:
		return errPCMInterrupted
	case -C.ESTRPIPE:
		return errPCMStreamPipe
	case -C.EAGAIN:
		return errPCMAgain
	case -C.ENOSYS:
		return errPCMNotSupported
	default:
		return alsaError(op, rc)
	}
}

func alsaFormat(f audio.SampleFormat) C.snd_pcm_format_t {
	switch f {
	case audio.U8:
		return C.SND_PCM_FORMAT_U8
	case audio.S16:
		return C.SND_PCM_FORMAT_S16_LE
	case audio.S24:
		return C.SND_PCM_FORMAT_S24_3LE
	case audio.S32:
		return C.SND_PCM_FORMAT_S32_LE
	case audio.Float32:
		return C.SND_PCM_FORMAT_FLOAT_LE
	default:
		return C.SND_PCM_FORMAT_UNKNOWN
	}
}

func (c *alsaConn) CanPause() bool {
	return C.snd_pcm_hw_params_can_pause(c.hw) == 1
}

func (c *alsaConn) SupportsFormat(f audio.SampleFormat) bool {
	format := alsaFormat(f)
	if format == C.SND_PCM_FORMAT_UNKNOWN {
		return false
	}

	var mask *C.snd_pcm_format_mask_t
	if rc := C.snd_pcm_format_mask_malloc(&mask); rc < 0 {
		return false
	}
	defer C.snd_pcm_format_mask_free(mask)

	C.snd_pcm_hw_params_get_format_mask(c.hw, mask)
	return C.snd_pcm_format_mask_test(mask, format) != 0
}

func (c *alsaConn) SetAccessInterleaved() error {
	if rc := C.snd_pcm_hw_params_set_access(c.handle, c.hw, C.SND_PCM_ACCESS_RW_INTERLEAVED); rc < 0 {
		return alsaError("failed to set access mode", rc)
	}
	return nil
}

func (c *alsaConn) SetFormat(f audio.SampleFormat) error {
	if rc := C.snd_pcm_hw_params_set_format(c.handle, c.hw, alsaFormat(f)); rc < 0 {
		return alsaError("failed to set sample format", rc)
	}
	return nil
}

func (c *alsaConn) SetRateNear(rate uint32) (uint32, error) {
	r := C.uint(rate)
	var dir C.int
	if rc := C.snd_pcm_hw_params_set_rate_near(c.handle, c.hw, &r, &dir); rc < 0 {
		return 0, alsaError("failed to set sample rate", rc)
	}
	return uint32(r), nil
}

func (c *alsaConn) SetChannelsNear(channels uint32) (uint32, error) {
	ch := C.uint(channels)
	if rc := C.snd_pcm_hw_params_set_channels_near(c.handle, c.hw, &ch); rc < 0 {
		return 0, alsaError("failed to set channel count", rc)
	}
	return uint32(ch), nil
}

func (c *alsaConn) MaxBufferSize() (int, error) {
	var frames C.snd_pcm_uframes_t
	if rc := C.snd_pcm_hw_params_get_buffer_size_max(c.hw, &frames); rc < 0 {
		return 0, alsaError("unable to get max buffer size", rc)
	}
	return int(frames), nil
}

func (c *alsaConn) SetBufferSizeNear(frames int) (int, error) {
	f := C.snd_pcm_uframes_t(frames)
	if rc := C.snd_pcm_hw_params_set_buffer_size_near(c.handle, c.hw, &f); rc < 0 {
		return 0, alsaError("unable to set buffer size", rc)
	}
	return int(f), nil
}

func (c *alsaConn) SetPeriodSizeNear(frames int) (int, error) {
	f := C.snd_pcm_uframes_t(frames)
	if rc := C.snd_pcm_hw_params_set_period_size_near(c.handle, c.hw, &f, nil); rc < 0 {
		return 0, alsaError("failed to set period size", rc)
	}
	return int(f), nil
}

func (c *alsaConn) ApplyHWParams() error {
	if rc := C.snd_pcm_hw_params(c.handle, c.hw); rc < 0 {
		return alsaError("failed to apply hardware parameters", rc)
	}
	return nil
}

// ApplySWParams arms silence-on-underrun and parks the start/stop
// thresholds at the boundary so the device never starts or stops on its
// own; the transport moves only on explicit prepare/start calls.
func (c *alsaConn) ApplySWParams() error {
	var sw *C.snd_pcm_sw_params_t
	if rc := C.snd_pcm_sw_params_malloc(&sw); rc < 0 {
		return alsaError("unable to allocate sw-parameters", rc)
	}
	defer C.snd_pcm_sw_params_free(sw)

	if rc := C.snd_pcm_sw_params_current(c.handle, sw); rc < 0 {
		return alsaError("unable to get sw-parameters", rc)
	}

	var boundary C.snd_pcm_uframes_t
	if rc := C.snd_pcm_sw_params_get_boundary(sw, &boundary); rc < 0 {
		return alsaError("unable to get boundary", rc)
	}

	// Play silence when underrun
	if rc := C.snd_pcm_sw_params_set_silence_size(c.handle, sw, boundary); rc < 0 {
		return alsaError("unable to set silence size", rc)
	}
	if rc := C.snd_pcm_sw_params_set_silence_threshold(c.handle, sw, 0); rc < 0 {
		return alsaError("unable to set silence threshold", rc)
	}
	if rc := C.snd_pcm_sw_params_set_start_threshold(c.handle, sw, boundary); rc < 0 {
		return alsaError("unable to set start threshold", rc)
	}
	if rc := C.snd_pcm_sw_params_set_stop_threshold(c.handle, sw, boundary); rc < 0 {
		return alsaError("unable to set stop threshold", rc)
	}

	if rc := C.snd_pcm_sw_params(c.handle, sw); rc < 0 {
		return alsaError("failed to apply software parameters", rc)
	}
	return nil
}

func (c *alsaConn) Prepare() error {
	if rc := C.snd_pcm_prepare(c.handle); rc < 0 {
		return rcError("prepare error", rc)
	}
	return nil
}

func (c *alsaConn) Start() error {
	if rc := C.snd_pcm_start(c.handle); rc < 0 {
		return rcError("start error", rc)
	}
	return nil
}

func (c *alsaConn) Resume() error {
	if rc := C.snd_pcm_resume(c.handle); rc < 0 {
		return rcError("resume error", rc)
	}
	return nil
}

func (c *alsaConn) Recover(cause error) error {
	rc := C.int(-C.EPIPE)
	switch cause {
	case errPCMInterrupted:
		rc = -C.EINTR
	case errPCMStreamPipe:
		rc = -C.ESTRPIPE
	}
	if ret := C.snd_pcm_recover(c.handle, rc, 1); ret < 0 {
		return alsaError("recover error", ret)
	}
	return nil
}

func (c *alsaConn) Pause(enable bool) error {
	flag := C.int(0)
	if enable {
		flag = 1
	}
	if rc := C.snd_pcm_pause(c.handle, flag); rc < 0 {
		return rcError("pause error", rc)
	}
	return nil
}

func mapPCMState(state C.snd_pcm_state_t) pcmState {
	switch state {
	case C.SND_PCM_STATE_OPEN:
		return pcmStateOpen
	case C.SND_PCM_STATE_SETUP:
		return pcmStateSetup
	case C.SND_PCM_STATE_PREPARED:
		return pcmStatePrepared
	case C.SND_PCM_STATE_RUNNING:
		return pcmStateRunning
	case C.SND_PCM_STATE_XRUN:
		return pcmStateXRun
	case C.SND_PCM_STATE_DRAINING:
		return pcmStateDraining
	case C.SND_PCM_STATE_PAUSED:
		return pcmStatePaused
	case C.SND_PCM_STATE_SUSPENDED:
		return pcmStateSuspended
	default:
		return pcmStateDisconnected
	}
}

func (c *alsaConn) State() pcmState {
	return mapPCMState(C.snd_pcm_state(c.handle))
}

func (c *alsaConn) Status() (pcmStatus, error) {
	var status *C.snd_pcm_status_t
	if rc := C.snd_pcm_status_malloc(&status); rc < 0 {
		return pcmStatus{}, alsaError("unable to allocate status", rc)
	}
	defer C.snd_pcm_status_free(status)

	if rc := C.snd_pcm_status(c.handle, status); rc < 0 {
		return pcmStatus{}, rcError("status error", rc)
	}

	return pcmStatus{
		state:       mapPCMState(C.snd_pcm_status_get_state(status)),
		delayFrames: int64(C.snd_pcm_status_get_delay(status)),
		availFrames: int64(C.snd_pcm_status_get_avail(status)),
	}, nil
}

func (c *alsaConn) WriteInterleaved(data []byte, frames int) (int, error) {
	if frames == 0 {
		return 0, nil
	}
	rc := C.snd_pcm_writei(c.handle, unsafe.Pointer(&data[0]), C.snd_pcm_uframes_t(frames))
	if rc < 0 {
		return 0, rcError("write error", C.int(rc))
	}
	return int(rc), nil
}

func (c *alsaConn) Drop() error {
	if rc := C.snd_pcm_drop(c.handle); rc < 0 {
		return rcError("drop error", rc)
	}
	return nil
}

func (c *alsaConn) Drain() error {
	if rc := C.snd_pcm_drain(c.handle); rc < 0 {
		return rcError("drain error", rc)
	}
	return nil
}

func (c *alsaConn) Close() error {
	if c.handle == nil {
		return nil
	}
	if c.hw != nil {
		C.snd_pcm_hw_params_free(c.hw)
		c.hw = nil
	}
	rc := C.snd_pcm_close(c.handle)
	c.handle = nil
	if rc < 0 {
		return alsaError("close error", rc)
	}
	return nil
}

// alsaDevices merges logical PCM endpoints (name hints) with physical
// card/sub-device enumeration.
func alsaDevices() []Device {
	devices := pcmDeviceHints()
	devices = append(devices, hardwareDevices()...)
	return devices
}

// pcmDeviceHints lists logical playback endpoints from the name hints.
func pcmDeviceHints() []Device {
	var devices []Device

	namePtr := C.CString("pcm")
	defer C.free(unsafe.Pointer(namePtr))

	var hints *unsafe.Pointer
	if C.snd_device_name_hint(-1, namePtr, (*unsafe.Pointer)(unsafe.Pointer(&hints))) < 0 {
		return nil
	}
	defer C.snd_device_name_free_hint((*unsafe.Pointer)(unsafe.Pointer(hints)))

	nameID := C.CString("NAME")
	descID := C.CString("DESC")
	ioID := C.CString("IOID")
	defer C.free(unsafe.Pointer(nameID))
	defer C.free(unsafe.Pointer(descID))
	defer C.free(unsafe.Pointer(ioID))

	for i := 0; ; i++ {
		hint := *(*unsafe.Pointer)(unsafe.Pointer(uintptr(unsafe.Pointer(hints)) + uintptr(i)*unsafe.Sizeof(uintptr(0))))
		if hint == nil {
			break
		}

		name := C.snd_device_name_get_hint(hint, nameID)
		desc := C.snd_device_name_get_hint(hint, descID)
		io := C.snd_device_name_get_hint(hint, ioID)

		if name == nil || desc == nil || (io != nil && C.GoString(io) != "Output") {
			freeHintStrings(name, desc, io)
			continue
		}

		goName := C.GoString(name)
		goDesc := C.GoString(desc)
		freeHintStrings(name, desc, io)

		if goName == "default" {
			devices = append(devices, Device{Name: goName, Description: goDesc})
		} else {
			devices = append(devices, Device{Name: goName, Description: fmt.Sprintf("%s - %s", goName, goDesc)})
		}
	}
	return devices
}

func freeHintStrings(strs ...*C.char) {
	for _, s := range strs {
		if s != nil {
			C.free(unsafe.Pointer(s))
		}
	}
}

// hardwareDevices walks the sound cards and their playback sub-devices.
func hardwareDevices() []Device {
	var devices []Device

	var cardInfo *C.snd_ctl_card_info_t
	if C.snd_ctl_card_info_malloc(&cardInfo) < 0 {
		return nil
	}
	defer C.snd_ctl_card_info_free(cardInfo)

	var pcmInfo *C.snd_pcm_info_t
	if C.snd_pcm_info_malloc(&pcmInfo) < 0 {
		return nil
	}
	defer C.snd_pcm_info_free(pcmInfo)

	card := C.int(-1)
	for {
		if C.snd_card_next(&card) < 0 || card < 0 {
			break
		}

		ctlName := C.CString(fmt.Sprintf("hw:%d", int(card)))
		var ctl *C.snd_ctl_t
		rc := C.snd_ctl_open(&ctl, ctlName, 0)
		C.free(unsafe.Pointer(ctlName))
		if rc < 0 {
			continue
		}

		if C.snd_ctl_card_info(ctl, cardInfo) < 0 {
			C.snd_ctl_close(ctl)
			continue
		}

		dev := C.int(-1)
		for {
			if C.snd_ctl_pcm_next_device(ctl, &dev) < 0 || dev < 0 {
				break
			}

			C.snd_pcm_info_set_device(pcmInfo, C.uint(dev))
			C.snd_pcm_info_set_subdevice(pcmInfo, 0)
			C.snd_pcm_info_set_stream(pcmInfo, C.SND_PCM_STREAM_PLAYBACK)

			if C.snd_ctl_pcm_info(ctl, pcmInfo) < 0 {
				continue
			}

			name := fmt.Sprintf("hw:%d,%d", int(card), int(dev))
			devices = append(devices, Device{
				Name: name,
				Description: fmt.Sprintf("%s - %s %s", name,
					C.GoString(C.snd_ctl_card_info_get_name(cardInfo)),
					C.GoString(C.snd_pcm_info_get_name(pcmInfo))),
			})
		}

		C.snd_ctl_close(ctl)
	}
	return devices
}
