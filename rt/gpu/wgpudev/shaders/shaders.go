package shaders

import (
	_ "embed"
)

//go:embed geometry.wgsl
var GeometryWGSL string

//go:embed fullscreen.wgsl
var FullscreenWGSL string

//go:embed hiz.wgsl
var HiZWGSL string

//go:embed hiz_downsample.wgsl
var HiZDownsampleWGSL string
