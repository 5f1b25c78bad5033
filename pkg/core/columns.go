package core

// Sample metadata columns
const (
	ColSampleFileName   = "Sample File Name"
	ColSampleBaseName   = "Sample Base Name"
	ColAssayRole        = "AssayRole"
	ColSampleType       = "SampleType"
	ColRunOrder         = "Run Order"
	ColAcquiredTime     = "Acquired Time"
	ColBatch            = "Batch"
	ColCorrectionBatch  = "Correction Batch"
	ColDilution         = "Dilution"
	ColExclusionDetails = "Exclusion Details"
)

// Feature metadata columns
const (
	ColFeatureName        = "Feature Name"
	ColMZ                 = "m/z"
	ColRetentionTime      = "Retention Time"
	ColPeakWidth          = "Peak Width"
	ColPPM                = "ppm"
	ColLLOQ               = "LLOQ"
	ColULOQ               = "ULOQ"
	ColUnit               = "Unit"
	ColQuantificationType = "quantificationType"
	ColCalibrationMethod  = "calibrationMethod"
)

// stringColumns are always read as text, whatever their content looks like.
var stringColumns = []string{
	ColSampleFileName,
	ColSampleBaseName,
	ColAssayRole,
	ColSampleType,
	ColExclusionDetails,
	ColFeatureName,
	ColUnit,
	ColQuantificationType,
	ColCalibrationMethod,
}
