package ingestion

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func quietLoader(opts ...LoaderOption) *Loader {
	return NewLoader(log.New(io.Discard, "", 0), opts...)
}

func TestLoadPromoCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "promociones.csv", "\ufeffLugar,Título,Descripción\nCafetería X,2x1,Todos los lunes\n,,\nLibrería Y,,\n")

	docs, err := quietLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 2, "blank rows are skipped")

	assert.Equal(t, "Lugar: Cafetería X\nTítulo: 2x1\nDescripción: Todos los lunes", docs[0].Text)
	assert.Equal(t, TypePromo, docs[0].DocType())
	assert.Equal(t, "promociones.csv", docs[0].Metadata[MetaSource])
	assert.Equal(t, "1", docs[0].Metadata[MetaRow])
	assert.Equal(t, "Cafetería X", docs[0].Metadata["Lugar"])

	assert.Equal(t, "Lugar: Librería Y\nTítulo: No disponible\nDescripción: No disponible", docs[1].Text)
	assert.Equal(t, "3", docs[1].Metadata[MetaRow])
}

func TestLoadSkipsUnknownTypes(t *testing.T) {
	dir := t.TempDir()
	unknown := writeFile(t, dir, "notas.csv", "a,b\n1,2\n")
	sport := writeFile(t, dir, "deportes.csv", "Deporte,Lugar,Horario,Reserva\nVóley,Coliseo,Martes,Web\n")

	docs, err := quietLoader().Load(context.Background(), unknown, sport)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, TypeSport, docs[0].DocType())
}

func TestLoadReportsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	sport := writeFile(t, dir, "deportes.csv", "Deporte\nTenis\n")

	docs, err := quietLoader().Load(context.Background(), filepath.Join(dir, "promociones.csv"), sport)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "promociones.csv")
	assert.Len(t, docs, 1, "remaining files are still loaded")
}

func TestLoadLatin1CSV(t *testing.T) {
	dir := t.TempDir()
	encoded, err := charmap.ISO8859_1.NewEncoder().String("Pregunta,Respuesta\n¿Cómo agendo?,Por correo\n")
	require.NoError(t, err)
	path := writeFile(t, dir, "psicologia_faq.csv", encoded)

	docs, err := quietLoader(WithEncoding("latin-1")).Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Pregunta: ¿Cómo agendo?\nRespuesta: Por correo", docs[0].Text)
}

func TestLoadRejectsUnknownEncoding(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empleos.csv", "Puesto\nAnalista\n")

	_, err := quietLoader(WithEncoding("ebcdic")).Load(context.Background(), path)
	assert.Error(t, err)
}

func TestLoadHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := quietLoader().Load(ctx, "promociones.csv")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "syllabus"), 0o755))
	writeFile(t, dir, "promociones.csv", "Lugar\nX\n")
	writeFile(t, dir, "README.md", "# datos")
	writeFile(t, filepath.Join(dir, "syllabus"), "marketing.pdf", "%PDF-1.4")

	paths, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "promociones.csv"),
		filepath.Join(dir, "syllabus", "marketing.pdf"),
	}, paths)

	_, err = Discover(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
