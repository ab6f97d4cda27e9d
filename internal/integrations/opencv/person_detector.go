package opencv

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"

	"people-counter-go/config"
	"people-counter-go/internal/detection"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Detektionstypen für Personenerkennung
const (
	HOGDetector = "hog" // Histogram of Oriented Gradients (CPU)
	DNNDetector = "dnn" // SSD MobileNet über das DNN-Modul, kann GPU nutzen
)

// DNN-Backend- und Target-Namen aus der Konfiguration
const (
	BackendDefault = "default"
	BackendCUDA    = "cuda"
	BackendOpenCL  = "opencl"
	TargetCPU      = "cpu"
	TargetCUDA     = "cuda"
	TargetOpenCL   = "opencl"
)

const (
	// Eingabegröße des SSD-Netzes
	dnnInputSize = 300
	// Größere Bilder werden vor der Erkennung verkleinert
	maxDimension = 800
	// HOG liefert keine Konfidenz, daher ein fester Wert
	hogConfidence = 0.8
	// Klassen-ID "person" im COCO-Datensatz des SSD-Modells
	cocoPersonClass = 1
)

// PersonDetector erkennt Personen in einzelnen Kamerabildern
type PersonDetector struct {
	cfg                 config.OpenCVConfig
	method              string
	hog                 gocv.HOGDescriptor
	net                 gocv.Net
	backend             gocv.NetBackendType
	target              gocv.NetTargetType
	confidenceThreshold float64
	initialized         bool
}

// NewPersonDetector erstellt einen neuen Personendetektor; Modelle werden erst
// in Initialize geladen
func NewPersonDetector(cfg config.OpenCVConfig) *PersonDetector {
	method := HOGDetector
	if cfg.PersonDetection.Method != "" {
		method = cfg.PersonDetection.Method
	}

	if cfg.UseGPU && method == HOGDetector {
		log.Warn("GPU-Beschleunigung ist konfiguriert, aber HOG-Detektor gewählt. " +
			"Für GPU-Beschleunigung wird der DNN-Detektor empfohlen.")
	}

	backend, target := selectBackend(cfg)

	threshold := cfg.PersonDetection.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.5
	}

	return &PersonDetector{
		cfg:                 cfg,
		method:              method,
		backend:             backend,
		target:              target,
		confidenceThreshold: threshold,
	}
}

// selectBackend wählt Backend und Target anhand der Konfiguration und der Plattform
func selectBackend(cfg config.OpenCVConfig) (gocv.NetBackendType, gocv.NetTargetType) {
	backend := gocv.NetBackendDefault
	target := gocv.NetTargetCPU

	switch cfg.PersonDetection.Backend {
	case "", BackendDefault:
		if !cfg.UseGPU {
			return backend, target
		}
		if haveNvidiaGPU() {
			log.Info("NVIDIA GPU erkannt, verwende CUDA-Backend")
			return gocv.NetBackendCUDA, gocv.NetTargetCUDA
		}
		if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
			// Metal wird vom DNN-Modul nicht unterstützt
			log.Info("Apple Silicon erkannt, verwende optimierte CPU-Version")
			return backend, target
		}
		log.Warn("GPU-Nutzung aktiviert, aber keine unterstützte GPU erkannt. Verwende CPU.")
		return backend, target
	case BackendCUDA:
		backend = gocv.NetBackendCUDA
	case BackendOpenCL:
		backend = gocv.NetBackendOpenCV
	default:
		log.Warnf("Unbekanntes Backend '%s' konfiguriert, verwende Standard", cfg.PersonDetection.Backend)
	}

	switch cfg.PersonDetection.Target {
	case TargetCUDA:
		target = gocv.NetTargetCUDA
	case TargetOpenCL:
		// DNN_TARGET_OPENCL
		target = gocv.NetTargetFP32
	case TargetCPU, "":
		target = gocv.NetTargetCPU
	default:
		log.Warnf("Unbekanntes Target '%s' konfiguriert, verwende CPU", cfg.PersonDetection.Target)
	}
	return backend, target
}

// haveNvidiaGPU prüft, ob eine NVIDIA-GPU verfügbar ist
func haveNvidiaGPU() bool {
	// NVIDIA-Container-Runtime setzt diese Variablen
	if os.Getenv("NVIDIA_VISIBLE_DEVICES") != "" || os.Getenv("NVIDIA_DRIVER_CAPABILITIES") != "" {
		return true
	}
	for _, path := range []string{
		"/usr/local/cuda/lib64/libcudart.so",
		"/usr/lib/x86_64-linux-gnu/libcuda.so",
		"/usr/lib/libcuda.so",
		"/usr/bin/nvidia-smi",
		"/usr/local/bin/nvidia-smi",
	} {
		if fileExists(path) {
			log.Debugf("NVIDIA-Komponente gefunden: %s", path)
			return true
		}
	}
	return false
}

// Initialize lädt HOG-Deskriptor oder DNN-Modell. Fehlen die Modelldateien,
// wird auf HOG zurückgefallen.
func (pd *PersonDetector) Initialize() error {
	if pd.initialized {
		return nil
	}

	log.Infof("Initialisiere OpenCV Personenerkennung (Methode: %s, GPU: %v)", pd.method, pd.cfg.UseGPU)

	switch pd.method {
	case HOGDetector:
		pd.initHOG()
	case DNNDetector:
		modelPath := pd.cfg.PersonDetection.ModelPath
		if modelPath == "" {
			modelPath = filepath.Join("models", "opencv", "ssd_mobilenet_v3_large_coco_2020_01_14.pb")
		}
		configPath := pd.cfg.PersonDetection.ConfigPath
		if configPath == "" {
			configPath = filepath.Join("models", "opencv", "ssd_mobilenet_v3_large_coco_2020_01_14.pbtxt")
		}

		if !fileExists(modelPath) || !fileExists(configPath) {
			log.Warnf("DNN-Modelldateien nicht gefunden: %s oder %s, falle zurück auf HOG", modelPath, configPath)
			pd.method = HOGDetector
			pd.initHOG()
			break
		}

		net := gocv.ReadNet(modelPath, configPath)
		if net.Empty() {
			return fmt.Errorf("konnte DNN-Modell nicht laden: %s", modelPath)
		}
		if err := net.SetPreferableBackend(pd.backend); err != nil {
			log.Warnf("DNN-Backend %d nicht verfügbar: %v", pd.backend, err)
		}
		if err := net.SetPreferableTarget(pd.target); err != nil {
			log.Warnf("DNN-Target %d nicht verfügbar: %v", pd.target, err)
		}
		pd.net = net
		log.Infof("DNN-Modell geladen mit Backend %d und Target %d", pd.backend, pd.target)
	default:
		return fmt.Errorf("unbekannte Erkennungsmethode: %s", pd.method)
	}

	pd.initialized = true
	return nil
}

func (pd *PersonDetector) initHOG() {
	pd.hog = gocv.NewHOGDescriptor()
	pd.hog.SetSVMDetector(gocv.HOGDefaultPeopleDetector())
	log.Info("HOG-Personen-Detektor initialisiert")
}

// DetectImage erkennt Personen in einem dekodierten Bild. Die Boxen liegen in
// den Koordinaten des Originalbildes.
func (pd *PersonDetector) DetectImage(img image.Image) ([]detection.Detection, error) {
	if !pd.initialized {
		return nil, fmt.Errorf("PersonDetector ist nicht initialisiert")
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("konnte Bild nicht konvertieren: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("leeres Bild")
	}

	return pd.detectMat(mat), nil
}

func (pd *PersonDetector) detectMat(img gocv.Mat) []detection.Detection {
	width, height := img.Cols(), img.Rows()

	// Bild für Performance skalieren wenn nötig
	processImg := img
	if width > maxDimension || height > maxDimension {
		scale := float64(maxDimension) / float64(max(width, height))
		processImg = gocv.NewMat()
		defer processImg.Close()
		gocv.Resize(img, &processImg, image.Point{X: int(float64(width) * scale), Y: int(float64(height) * scale)}, 0, 0, gocv.InterpolationLinear)
	}

	var persons []detection.Detection
	switch pd.method {
	case HOGDetector:
		scaleX := float64(width) / float64(processImg.Cols())
		scaleY := float64(height) / float64(processImg.Rows())
		for _, r := range pd.hog.DetectMultiScale(processImg) {
			if hogConfidence < pd.confidenceThreshold {
				continue
			}
			persons = append(persons, detection.Detection{
				Box: detection.BBox{
					X1: float64(r.Min.X) * scaleX,
					Y1: float64(r.Min.Y) * scaleY,
					X2: float64(r.Max.X) * scaleX,
					Y2: float64(r.Max.Y) * scaleY,
				},
				Confidence: hogConfidence,
			})
		}
	case DNNDetector:
		blob := gocv.BlobFromImage(
			processImg,
			1.0/127.5,
			image.Point{X: dnnInputSize, Y: dnnInputSize},
			gocv.NewScalar(127.5, 127.5, 127.5, 0), // normalisiert auf [-1,1]
			true,
			false,
		)
		defer blob.Close()

		pd.net.SetInput(blob, "")
		prob := pd.net.Forward("")
		defer prob.Close()

		// SSD-Ausgabe 1x1xNx7: [img_id, class_id, confidence, left, top, right, bottom]
		rows := prob.Reshape(1, prob.Total()/7)
		defer rows.Close()
		for i := 0; i < rows.Rows(); i++ {
			if int(rows.GetFloatAt(i, 1)) != cocoPersonClass {
				continue
			}
			conf := float64(rows.GetFloatAt(i, 2))
			if conf < pd.confidenceThreshold {
				continue
			}
			// Koordinaten sind relativ, daher direkt auf das Original skalierbar
			box := detection.BBox{
				X1: float64(rows.GetFloatAt(i, 3)) * float64(width),
				Y1: float64(rows.GetFloatAt(i, 4)) * float64(height),
				X2: float64(rows.GetFloatAt(i, 5)) * float64(width),
				Y2: float64(rows.GetFloatAt(i, 6)) * float64(height),
			}
			if box.Area() == 0 {
				continue
			}
			persons = append(persons, detection.Detection{Box: box, Confidence: conf})
		}
	}

	log.Debugf("OpenCV: %d Personen erkannt", len(persons))
	return persons
}

// Method liefert die tatsächlich verwendete Erkennungsmethode
func (pd *PersonDetector) Method() string {
	return pd.method
}

// Close gibt die Ressourcen des Detektors frei
func (pd *PersonDetector) Close() error {
	if !pd.initialized {
		return nil
	}
	pd.initialized = false
	if pd.method == HOGDetector {
		return pd.hog.Close()
	}
	return pd.net.Close()
}

// fileExists prüft, ob eine Datei existiert
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
