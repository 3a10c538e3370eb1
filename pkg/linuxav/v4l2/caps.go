package v4l2

// capabilityFlags lists every capability bit in ascending order.
var capabilityFlags = []struct {
	flag uint32
	name string
}{
	{CapVideoCapture, "Video Capture"},
	{CapVideoOutput, "Video Output"},
	{CapVideoOverlay, "Video Overlay"},
	{CapVBICapture, "VBI Capture"},
	{CapVBIOutput, "VBI Output"},
	{CapSlicedVBICapture, "Sliced VBI Capture"},
	{CapSlicedVBIOutput, "Sliced VBI Output"},
	{CapRDSCapture, "RDS Data Capture"},
	{CapVideoOutputOverlay, "Video Output Overlay"},
	{CapHWFreqSeek, "Hardware Frequency Seek"},
	{CapRDSOutput, "RDS Encoder"},
	{CapVideoCaptureMPlane, "Multiplanar Video Capture"},
	{CapVideoOutputMPlane, "Multiplanar Video Output"},
	{CapVideoM2MMPlane, "Multiplanar Video Mem-to-Mem"},
	{CapVideoM2M, "Video Mem-to-Mem"},
	{CapTuner, "Tuner"},
	{CapAudio, "Audio"},
	{CapRadio, "Radio Device"},
	{CapModulator, "Modulator"},
	{CapSDRCapture, "SDR Capture"},
	{CapExtPixFormat, "Extended Pixel Format"},
	{CapSDROutput, "SDR Output"},
	{CapMetaCapture, "Metadata Capture"},
	{CapReadWrite, "Read/Write System Calls"},
	{CapStreaming, "Streaming I/O IOCTLs"},
	{CapMetaOutput, "Metadata Output"},
	{CapTouch, "Touch Device"},
	{CapIOMC, "Input/Output Controlled by Media Controller"},
	{CapDeviceCaps, "Device Capabilities"},
}

// CapabilityNames returns the names of the capability bits set in mask,
// lowest bit first. Unknown bits are ignored.
func CapabilityNames(mask uint32) []string {
	var names []string
	for _, c := range capabilityFlags {
		if mask&c.flag != 0 {
			names = append(names, c.name)
		}
	}
	return names
}
